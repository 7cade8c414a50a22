package events

const (
	TypeSessionUpdate  = "session.update"
	TypeResponseCreate = "response.create"
)

type SessionUpdateEvent struct {
	BaseEvent
	Session SessionUpdate `json:"session"`
}

func NewSessionUpdate(session SessionUpdate) SessionUpdateEvent {
	return SessionUpdateEvent{
		BaseEvent: NewBaseEvent(TypeSessionUpdate),
		Session:   session,
	}
}

type ResponseCreateEvent struct {
	BaseEvent
	Response ResponseCreatePayload `json:"response"`
}

type ResponseCreatePayload struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

func NewResponseCreate(p ResponseCreatePayload) ResponseCreateEvent {
	return ResponseCreateEvent{
		BaseEvent: NewBaseEvent(TypeResponseCreate),
		Response:  p,
	}
}
