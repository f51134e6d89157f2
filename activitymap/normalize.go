// Package activitymap flattens hub activity events into a transport
// agnostic record for audit logs and queues.
package activitymap

import (
	"context"
	"strings"
	"time"

	hub "github.com/goliatone/go-auth-hub"
)

// MetadataKeyProvider stores the provider the event happened against.
const MetadataKeyProvider = "provider"

const (
	defaultChannel = "hub"
	defaultActorID = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts a hub.ActivityEvent into the normalized shape. The
// object is derived from the event type: posts for publishes, provider
// accounts for link and refresh events, the user otherwise.
func Normalize(event hub.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	objectType, objectID := object(event)

	return Normalized{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.UserID), options.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock stamps events that carry no OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// Sink returns a hub.ActivitySink that normalizes every event before
// handing it to emit.
func Sink(emit func(Normalized) error, opts ...Option) hub.ActivitySink {
	return hub.ActivitySinkFunc(func(_ context.Context, event hub.ActivityEvent) error {
		return emit(Normalize(event, opts...))
	})
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func object(event hub.ActivityEvent) (string, string) {
	switch event.EventType {
	case hub.ActivityEventPostPublished:
		id, _ := event.Metadata["post_id"].(string)
		return "post", id
	case hub.ActivityEventAccountLinked, hub.ActivityEventTokenRefreshed:
		return "account", event.UserID + ":" + event.Provider
	case hub.ActivityEventHandleLinked, hub.ActivityEventHandleDetached:
		return "handle", event.UserID
	default:
		return "user", event.UserID
	}
}

func normalizeMetadata(event hub.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if provider := strings.TrimSpace(event.Provider); provider != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyProvider]; !exists {
			metadata[MetadataKeyProvider] = provider
		}
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
