package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// SESSION EVENTS
// =============================================================================

type SessionCreatedPayload struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

type SessionClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (SessionClosedPayload) EventType() EventType { return EventSessionClosed }

// =============================================================================
// GENERATION EVENTS
// =============================================================================

// Candidate mirrors a ranked next-token alternative on the wire.
type Candidate struct {
	Token       string  `json:"token"`
	Probability float64 `json:"probability"`
}

type ModePayload struct {
	Mode     string `json:"mode"`
	Previous string `json:"previous,omitempty"`
}

func (ModePayload) EventType() EventType { return EventGenerationMode }

type CandidatesPayload struct {
	Candidates []Candidate `json:"candidates"`
	Step       int         `json:"step"`
}

func (CandidatesPayload) EventType() EventType { return EventGenerationCandidates }

type TokenPayload struct {
	Token string `json:"token"`
	Step  int    `json:"step"`
	Mode  string `json:"mode"`
}

func (TokenPayload) EventType() EventType { return EventGenerationToken }

type GenerationErrorPayload struct {
	Mode  string `json:"mode"`
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (GenerationErrorPayload) EventType() EventType { return EventGenerationError }

type DonePayload struct {
	Reason string `json:"reason"`
	Steps  int    `json:"steps"`
	Text   string `json:"text"`
}

func (DonePayload) EventType() EventType { return EventGenerationDone }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetTokenPayload(e Event) (TokenPayload, bool) {
	return ExtractPayload[TokenPayload](e)
}

func GetCandidatesPayload(e Event) (CandidatesPayload, bool) {
	return ExtractPayload[CandidatesPayload](e)
}

func GetModePayload(e Event) (ModePayload, bool) {
	return ExtractPayload[ModePayload](e)
}

func GetDonePayload(e Event) (DonePayload, bool) {
	return ExtractPayload[DonePayload](e)
}

func GetGenerationErrorPayload(e Event) (GenerationErrorPayload, bool) {
	return ExtractPayload[GenerationErrorPayload](e)
}
