package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusCall struct {
	sessionID string
	owner     string
}

type mockStatusHandler struct {
	calls []statusCall
}

func (m *mockStatusHandler) HandleStatusUpdate(ctx context.Context, sessionID, owner string) {
	m.calls = append(m.calls, statusCall{sessionID: sessionID, owner: owner})
}

func TestHandleMessage(t *testing.T) {
	handler := &mockStatusHandler{}
	consumer := &Consumer{handler: handler}
	ctx := context.Background()

	msg := StatusMessage{
		EventType: "SESSION_STATUS_UPDATED",
		Timestamp: time.Now(),
	}
	msg.Payload.SessionID = "sess-1"
	msg.Payload.Owner = "user-1"
	msg.Payload.Phase = "executing"

	body, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, consumer.handleMessage(ctx, body))
	require.Len(t, handler.calls, 1)
	assert.Equal(t, "sess-1", handler.calls[0].sessionID)
	assert.Equal(t, "user-1", handler.calls[0].owner)
}

func TestHandleMessageInvalidJSON(t *testing.T) {
	consumer := &Consumer{handler: &mockStatusHandler{}}
	assert.Error(t, consumer.handleMessage(context.Background(), []byte("not-json")))
}

func TestHandleMessageMissingFields(t *testing.T) {
	handler := &mockStatusHandler{}
	consumer := &Consumer{handler: handler}
	ctx := context.Background()

	noOwner := []byte(`{"event_type": "SESSION_STATUS_UPDATED", "payload": {"session_id": "sess-1"}}`)
	assert.Error(t, consumer.handleMessage(ctx, noOwner))

	noSession := []byte(`{"event_type": "SESSION_STATUS_UPDATED", "payload": {"owner": "user-1"}}`)
	assert.Error(t, consumer.handleMessage(ctx, noSession))

	assert.Empty(t, handler.calls, "invalid messages must never reach the handler")
}
