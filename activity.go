package hub

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType names a hub event. Values are dotted and prefixed with
// "hub." so they can share a bus with other producers.
type ActivityEventType string

const (
	ActivityEventUserRegistered ActivityEventType = "hub.user.registered"
	ActivityEventLoginSuccess   ActivityEventType = "hub.login.success"
	ActivityEventLoginFailure   ActivityEventType = "hub.login.failure"
	ActivityEventAccountLinked  ActivityEventType = "hub.account.linked"
	ActivityEventTokenRefreshed ActivityEventType = "hub.token.refreshed"
	ActivityEventHandleLinked   ActivityEventType = "hub.handle.linked"
	ActivityEventHandleDetached ActivityEventType = "hub.handle.detached"
	ActivityEventPostPublished  ActivityEventType = "hub.post.published"
)

// ActivityEvent describes something the orchestrator did. Provider is empty
// for events that do not involve a provider.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Provider   string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives activity events. Errors are logged by the caller
// and never fail the flow that emitted the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	return f(ctx, event)
}

// ActivitySinks fans an event out to every sink. All sinks see the event
// even when an earlier one fails.
type ActivitySinks []ActivitySink

// Record implements ActivitySink.
func (s ActivitySinks) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
