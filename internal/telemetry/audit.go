package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// ChatEmitter publishes chat lifecycle events (sends, failures, reads).
type ChatEmitter struct {
	publisher   Publisher
	service     string
	environment string
}

type ChatEvent struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	EventName     string            `json:"event_name"`
	OccurredAt    string            `json:"occurred_at"`
	Service       string            `json:"service"`
	Environment   string            `json:"environment"`
	LeagueID      string            `json:"league_id"`
	UserID        string            `json:"user_id,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

func NewChatEmitter(publisher Publisher, service, environment string) *ChatEmitter {
	return &ChatEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one event under chat_events.<name>. Failures are logged only.
func (e *ChatEmitter) Emit(ctx context.Context, name, leagueID, userID string, attrs map[string]string) {
	if e == nil || e.publisher == nil {
		return
	}

	event := ChatEvent{
		SchemaVersion: 1,
		EventType:     "chat_events",
		EventName:     name,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		LeagueID:      leagueID,
		UserID:        userID,
		Attributes:    attrs,
	}

	if err := e.publisher.Publish(ctx, "chat_events."+name, event); err != nil {
		log.Warn().Err(err).Str("event", name).Str("league_id", leagueID).Msg("chat event publish failed")
	}
}
