package core

import "time"

// EventType enumerates domain events emitted by the listener.
type EventType string

const (
	EventChangeReceived        EventType = "change_received"
	EventScoreIncreased        EventType = "score_increased"
	EventUserOvertaken         EventType = "user_overtaken"
	EventNotificationDelivered EventType = "notification_delivered"
	EventNotificationFailed    EventType = "notification_failed"
	EventTokensPruned          EventType = "tokens_pruned"
)

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	TargetID UserID         `json:"target_id,omitempty"`
	Name     string         `json:"name,omitempty"`
	OldScore Score          `json:"old_score,omitempty"`
	NewScore Score          `json:"new_score,omitempty"`
	Count    int            `json:"count,omitempty"`
	Failure  FailureKind    `json:"failure,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewChangeReceived records one change read from the stream, whatever its
// classification. The change kind is carried in Metadata["kind"].
func NewChangeReceived(user UserID, kind ChangeKind) Event {
	return Event{Type: EventChangeReceived, Time: time.Now().UTC(), UserID: user, Metadata: map[string]any{"kind": string(kind)}}
}

func NewScoreIncreased(user UserID, name string, oldScore, newScore Score) Event {
	return Event{Type: EventScoreIncreased, Time: time.Now().UTC(), UserID: user, Name: name, OldScore: oldScore, NewScore: newScore}
}

func NewUserOvertaken(actor, target UserID, name string, oldScore, newScore Score) Event {
	return Event{Type: EventUserOvertaken, Time: time.Now().UTC(), UserID: actor, TargetID: target, Name: name, OldScore: oldScore, NewScore: newScore}
}

func NewNotificationDelivered(actor, target UserID, count int) Event {
	return Event{Type: EventNotificationDelivered, Time: time.Now().UTC(), UserID: actor, TargetID: target, Count: count}
}

func NewNotificationFailed(actor, target UserID, failure FailureKind, count int) Event {
	return Event{Type: EventNotificationFailed, Time: time.Now().UTC(), UserID: actor, TargetID: target, Failure: failure, Count: count}
}

func NewTokensPruned(target UserID, count int) Event {
	return Event{Type: EventTokensPruned, Time: time.Now().UTC(), UserID: target, TargetID: target, Count: count}
}
