package http_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/ai"
	"github.com/MangBao/triage-recovery-hub-be/internal/config"
	"github.com/MangBao/triage-recovery-hub-be/internal/worker"
)

type gatedClassifier struct {
	release chan struct{}
}

func (g gatedClassifier) Classify(ctx context.Context, _ string) (ai.RawResult, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "", context.DeadlineExceeded
	}
	return `{"category":"Technical","urgency":"High","sentiment_score":3,"draft_response":"We are looking into the outage."}`, nil
}

func listen(t *testing.T, s *testServer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.ShutdownWithTimeout(2 * time.Second) })
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/tickets", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketProtocol(t *testing.T) {
	s := newTestServer(t, 0)
	conn := dial(t, listen(t, s))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))
	assert.Equal(t, "pong", readJSON(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "ticket_ids": []int64{7, 8}}))
	msg := readJSON(t, conn)
	assert.Equal(t, "subscribed", msg["type"])
	assert.Equal(t, []any{float64(7), float64(8)}, msg["ticket_ids"])
	assert.Equal(t, 1, s.hub.Subscribers(7))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "ticket_ids": []int64{7}}))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "dance"}))
	msg = readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Unknown action: dance", msg["message"])
	assert.Zero(t, s.hub.Subscribers(7))
	assert.Equal(t, 1, s.hub.Subscribers(8))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "ticket_ids": "all"}))
	assert.Equal(t, "error", readJSON(t, conn)["type"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.hub.Subscribers(8) == 0 }, 2*time.Second, 10*time.Millisecond)
}

// Every dashboard subscribed to a ticket sees it reach completed without polling.
func TestWebSocketReceivesTriageResult(t *testing.T) {
	s := newTestServer(t, 0)
	addr := listen(t, s)

	classifier := gatedClassifier{release: make(chan struct{})}
	processor := worker.NewProcessor(s.repo, classifier, s.hub, s.metrics, zap.NewNop(), "ws-test")
	pool := worker.NewPool(s.queue, processor, config.WorkerConfig{Concurrency: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-poolDone
	})

	id := s.createTicket(t, "the whole site is down for our team")

	watchers := []*websocket.Conn{dial(t, addr), dial(t, addr)}
	other := dial(t, addr)
	for _, w := range watchers {
		require.NoError(t, w.WriteJSON(map[string]any{"action": "subscribe", "ticket_ids": []int64{id}}))
		require.Equal(t, "subscribed", readJSON(t, w)["type"])
	}
	require.NoError(t, other.WriteJSON(map[string]any{"action": "subscribe", "ticket_ids": []int64{id + 100}}))
	require.Equal(t, "subscribed", readJSON(t, other)["type"])

	close(classifier.release)

	for _, w := range watchers {
		msg := readJSON(t, w)
		require.Equal(t, "ticket_updated", msg["type"])
		data := msg["data"].(map[string]any)
		assert.Equal(t, float64(id), data["id"])
		assert.Equal(t, "completed", data["status"])
		assert.Equal(t, "Technical", data["category"])
		assert.Equal(t, "High", data["urgency"])
		assert.Equal(t, float64(3), data["sentiment_score"])
		assert.Equal(t, "success", data["ai_status"])
		assert.Equal(t, "We are looking into the outage.", data["ai_draft_response"])
	}

	// The other client is not subscribed to this ticket and gets nothing.
	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var unexpected map[string]any
	err := other.ReadJSON(&unexpected)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}
