package models

// EventType names an event on the client stream. The value doubles as
// the SSE event name.
type EventType string

const (
	EventSessionProgress  EventType = "session.progress"
	EventSessionStatus    EventType = "session.status"
	EventSessionUpdated   EventType = "session.updated"
	EventNotificationNew  EventType = "notification.new"
	EventNotificationRead EventType = "notification.read"
)

// Event is an ephemeral state-change notice. Payload is the minimal
// JSON body for the event kind; only session.updated ever carries a
// full entity.
type Event struct {
	Type    EventType
	Payload any
}

type ProgressPayload struct {
	SessionID   string  `json:"sessionId"`
	Progress    int     `json:"progress"`
	CurrentTask *string `json:"currentTask,omitempty"`
}

type StatusPayload struct {
	SessionID    string  `json:"sessionId"`
	Status       Status  `json:"status"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

type UpdatedPayload struct {
	SessionID string   `json:"sessionId"`
	Deleted   bool     `json:"deleted,omitempty"`
	Session   *Session `json:"session,omitempty"`
}

type NotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
}

func ProgressEvent(sessionID string, progress int, currentTask *string) Event {
	return Event{Type: EventSessionProgress, Payload: ProgressPayload{
		SessionID: sessionID, Progress: progress, CurrentTask: currentTask,
	}}
}

func StatusEvent(sessionID string, status Status, errorMessage *string) Event {
	return Event{Type: EventSessionStatus, Payload: StatusPayload{
		SessionID: sessionID, Status: status, ErrorMessage: errorMessage,
	}}
}

func UpdatedEvent(s *Session) Event {
	return Event{Type: EventSessionUpdated, Payload: UpdatedPayload{
		SessionID: s.ID, Session: s,
	}}
}

func DeletedEvent(sessionID string) Event {
	return Event{Type: EventSessionUpdated, Payload: UpdatedPayload{
		SessionID: sessionID, Deleted: true,
	}}
}

func NotificationNewEvent(n Notification) Event {
	return Event{Type: EventNotificationNew, Payload: n}
}

func NotificationReadEvent(id string) Event {
	return Event{Type: EventNotificationRead, Payload: NotificationReadPayload{
		NotificationID: id,
	}}
}
