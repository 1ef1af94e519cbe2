package authsync

import (
	"context"
	"time"
)

// EventType enumerates the topics published by Machine.
type EventType string

const (
	EventLoginSuccess  EventType = "auth.login.success"
	EventLogout        EventType = "auth.logout"
	EventError         EventType = "auth.error"
	EventTokenRefresh  EventType = "auth.token.refresh"
	EventStatusChanged EventType = "auth.status.changed"
)

// Event is a single state notification. Only the fields relevant to Type are set.
type Event struct {
	ID         string
	Type       EventType
	From       AuthStatus
	To         AuthStatus
	User       *User
	Token      string
	SessionID  string
	Reason     LogoutReason
	RedirectTo string
	Message    string
	OccurredAt time.Time
}

// Publisher fans events out to UI listeners.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error {
	return nil
}

func normalizePublisher(p Publisher) Publisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
