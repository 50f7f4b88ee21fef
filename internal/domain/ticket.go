package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusProcessing TicketStatus = "processing"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusFailed     TicketStatus = "failed"
)

// IsTerminal reports whether no further AI-driven transition occurs from s.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusFailed
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusProcessing, TicketStatusCompleted, TicketStatusFailed:
		return true
	}
	return false
}

// TicketCategory is the AI classification bucket.
type TicketCategory string

const (
	CategoryBilling        TicketCategory = "Billing"
	CategoryTechnical      TicketCategory = "Technical"
	CategoryFeatureRequest TicketCategory = "Feature Request"
	CategoryOther          TicketCategory = "Other"
)

var categories = []TicketCategory{CategoryBilling, CategoryTechnical, CategoryFeatureRequest, CategoryOther}

// ParseCategory maps a loosely formatted category name onto its canonical
// value. Case, spaces, dashes and underscores are ignored.
func ParseCategory(raw string) (TicketCategory, bool) {
	key := foldEnum(raw)
	for _, c := range categories {
		if foldEnum(string(c)) == key {
			return c, true
		}
	}
	return "", false
}

// UrgencyLevel enumerates how quickly an agent should react.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "Low"
	UrgencyMedium UrgencyLevel = "Medium"
	UrgencyHigh   UrgencyLevel = "High"
)

var urgencies = []UrgencyLevel{UrgencyLow, UrgencyMedium, UrgencyHigh}

// ParseUrgency maps an urgency name onto its canonical value, case-insensitively.
func ParseUrgency(raw string) (UrgencyLevel, bool) {
	key := foldEnum(raw)
	for _, u := range urgencies {
		if foldEnum(string(u)) == key {
			return u, true
		}
	}
	return "", false
}

// AIStatus records how the AI step ended, independent of the lifecycle status.
type AIStatus string

const (
	AIStatusSuccess  AIStatus = "success"
	AIStatusFallback AIStatus = "fallback"
	AIStatusError    AIStatus = "error"
)

// Valid reports whether s is a known AI status.
func (s AIStatus) Valid() bool {
	return s == AIStatusSuccess || s == AIStatusFallback || s == AIStatusError
}

// Triage holds the classification and draft written by a completed AI step.
type Triage struct {
	Category       TicketCategory
	Urgency        UrgencyLevel
	SentimentScore int
	DraftResponse  string
}

// Ticket is the aggregate for a customer complaint.
type Ticket struct {
	ID                  int64
	CustomerComplaint   string
	Status              TicketStatus
	Category            *TicketCategory
	Urgency             *UrgencyLevel
	SentimentScore      *int
	AIDraftResponse     *string
	AIStatus            *AIStatus
	AgentEditedResponse *string
	AgentID             *string
	Resolved            bool
	ResolvedAt          *time.Time
	ErrorMessage        *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ApplyTriage sets all classification fields at once.
func (t *Ticket) ApplyTriage(tr Triage) {
	category, urgency, score, draft := tr.Category, tr.Urgency, tr.SentimentScore, tr.DraftResponse
	t.Category = &category
	t.Urgency = &urgency
	t.SentimentScore = &score
	t.AIDraftResponse = &draft
}

// ClearTriage drops every AI-authored field.
func (t *Ticket) ClearTriage() {
	t.Category = nil
	t.Urgency = nil
	t.SentimentScore = nil
	t.AIDraftResponse = nil
	t.AIStatus = nil
	t.ErrorMessage = nil
}

// Clone returns a deep copy so callers never share pointer fields.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Category = clonePtr(t.Category)
	c.Urgency = clonePtr(t.Urgency)
	c.SentimentScore = clonePtr(t.SentimentScore)
	c.AIDraftResponse = clonePtr(t.AIDraftResponse)
	c.AIStatus = clonePtr(t.AIStatus)
	c.AgentEditedResponse = clonePtr(t.AgentEditedResponse)
	c.AgentID = clonePtr(t.AgentID)
	c.ResolvedAt = clonePtr(t.ResolvedAt)
	c.ErrorMessage = clonePtr(t.ErrorMessage)
	return &c
}

var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:    {TicketStatusProcessing, TicketStatusFailed},
	TicketStatusProcessing: {TicketStatusProcessing, TicketStatusCompleted, TicketStatusFailed},
	TicketStatusCompleted:  {TicketStatusPending},
	TicketStatusFailed:     {TicketStatusPending},
}

// CanTransition reports whether current may move to next. The only backward
// edges are the explicit re-triage ones out of a terminal state.
func CanTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

func foldEnum(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
