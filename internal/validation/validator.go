// Package validation is the boundary between untrusted model output and the
// ticket store. Nothing the model returns is persisted unless it passes here.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MangBao/triage-recovery-hub-be/internal/ai"
	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
)

// MaxDraftLength bounds the accepted draft response, in characters.
const MaxDraftLength = 2000

// FallbackDraft is the placeholder reply written when the model output is unusable.
const FallbackDraft = "Thank you for contacting us. We appreciate your feedback. " +
	"We're reviewing your concern and will get back to you shortly. " +
	"Our support team aims to respond within 24 hours."

// ErrParseFailed is returned when content is neither JSON nor fenced JSON.
var ErrParseFailed = errors.New("failed to parse model response")

var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// Outcome is either Valid or Invalid.
type Outcome interface {
	outcome()
}

// Valid carries a fully checked triage result.
type Valid struct {
	Result domain.Triage
}

// Invalid carries the first failed check and the safe defaults to use instead.
type Invalid struct {
	Reason   string
	Fallback domain.Triage
}

func (Valid) outcome()   {}
func (Invalid) outcome() {}

// Fallback returns the safe classification applied to unusable output.
func Fallback() domain.Triage {
	return domain.Triage{
		Category:       domain.CategoryOther,
		Urgency:        domain.UrgencyMedium,
		SentimentScore: 5,
		DraftResponse:  FallbackDraft,
	}
}

type payload struct {
	Category       json.RawMessage `json:"category"`
	Urgency        json.RawMessage `json:"urgency"`
	SentimentScore json.RawMessage `json:"sentiment_score"`
	DraftResponse  json.RawMessage `json:"draft_response"`
}

// Validate checks raw model output field by field.
func Validate(raw ai.RawResult) Outcome {
	p, err := parse[payload](string(raw))
	if err != nil {
		return invalid("response is not a JSON object")
	}

	categoryText, err := stringField("category", p.Category)
	if err != nil {
		return invalid(err.Error())
	}
	category, ok := domain.ParseCategory(categoryText)
	if !ok {
		return invalid(fmt.Sprintf("unknown category %q", categoryText))
	}

	urgencyText, err := stringField("urgency", p.Urgency)
	if err != nil {
		return invalid(err.Error())
	}
	urgency, ok := domain.ParseUrgency(urgencyText)
	if !ok {
		return invalid(fmt.Sprintf("unknown urgency %q", urgencyText))
	}

	score, err := sentimentField(p.SentimentScore)
	if err != nil {
		return invalid(err.Error())
	}

	draft, err := stringField("draft_response", p.DraftResponse)
	if err != nil {
		return invalid(err.Error())
	}
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return invalid("draft_response is empty")
	}
	if n := utf8.RuneCountInString(draft); n > MaxDraftLength {
		return invalid(fmt.Sprintf("draft_response has %d characters, limit is %d", n, MaxDraftLength))
	}

	return Valid{Result: domain.Triage{
		Category:       category,
		Urgency:        urgency,
		SentimentScore: score,
		DraftResponse:  draft,
	}}
}

func invalid(reason string) Invalid {
	return Invalid{Reason: reason, Fallback: Fallback()}
}

func stringField(name string, raw json.RawMessage) (string, error) {
	if isMissing(raw) {
		return "", fmt.Errorf("%s is missing", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s is not a string", name)
	}
	return s, nil
}

// sentimentField accepts only JSON numbers with no fractional part in [1,10].
// Quoted numbers are rejected.
func sentimentField(raw json.RawMessage) (int, error) {
	if isMissing(raw) {
		return 0, errors.New("sentiment_score is missing")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil || strings.HasPrefix(strings.TrimSpace(string(raw)), `"`) {
		return 0, errors.New("sentiment_score is not a number")
	}
	f, err := n.Float64()
	if err != nil || math.Trunc(f) != f {
		return 0, fmt.Errorf("sentiment_score %s is not an integer", n)
	}
	if f < 1 || f > 10 {
		return 0, fmt.Errorf("sentiment_score %s is outside 1..10", n)
	}
	return int(f), nil
}

func isMissing(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// parse unmarshals content directly, or the first fenced JSON block in it.
func parse[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	matches := jsonBlockRegex.FindStringSubmatch(content)
	if len(matches) >= 2 {
		cleaned := strings.TrimSpace(matches[1])
		if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
			return result, nil
		}
	}

	return result, ErrParseFailed
}
