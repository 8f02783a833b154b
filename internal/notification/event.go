package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Event is a "faculty is available" notification for one watch session.
type Event struct {
	SessionID string `json:"sessionId"`
	CabinID   string `json:"cabinId"`
	Name      string `json:"name"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// NewEvent builds the availability notification for a cabin.
func NewEvent(sessionID, cabinID, name string) Event {
	return Event{
		SessionID: sessionID,
		CabinID:   cabinID,
		Name:      name,
		Title:     fmt.Sprintf("%s is Available!", name),
		Body:      fmt.Sprintf("Dr. %s is now available in %s.", name, cabinID),
	}
}

// Notifier delivers events to a user.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Fanout delivers every event to all of its notifiers. A failing sink does
// not stop the others.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			log.Printf("Error delivering notification for %s to session %s: %v", ev.CabinID, ev.SessionID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
