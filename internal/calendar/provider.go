// Package calendar writes events into an owner's external calendar through
// Google Calendar or a CalDAV server.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/model"
)

var (
	// ErrNotFound is returned by Update when the external entry no longer exists
	ErrNotFound = errors.New("calendar entry not found")
	// ErrNoCredentials is returned when an account has not delegated calendar access
	ErrNoCredentials = errors.New("account has no calendar credentials")
)

// Entry is the provider-neutral shape of a calendar entry
type Entry struct {
	ExternalID  string
	Title       string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
}

// EntryFromEvent builds the calendar entry for ev
func EntryFromEvent(ev *model.Event) Entry {
	return Entry{
		ExternalID:  ev.ExternalCalendarID,
		Title:       ev.Title,
		Location:    ev.Location,
		Description: Description(ev.PrepItems),
		Start:       ev.StartAt.UTC(),
		End:         ev.EndAt.UTC(),
	}
}

// Description lists preparation items, or returns "" when there are none
func Description(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Items to bring:")
	for _, item := range items {
		b.WriteString("\n• ")
		b.WriteString(item)
	}
	return b.String()
}

// Provider creates and updates entries in one kind of external calendar.
// Both calls return the entry's external id.
type Provider interface {
	Create(ctx context.Context, acct *model.Account, e Entry) (string, error)
	Update(ctx context.Context, acct *model.Account, e Entry) (string, error)
}

// Providers maps an account's calendar_provider value to its Provider
type Providers map[string]Provider

// For returns the provider configured for acct
func (p Providers) For(acct *model.Account) (Provider, error) {
	name := acct.CalendarProvider
	if name == "" {
		name = model.CalendarGoogle
	}
	provider, ok := p[name]
	if !ok || provider == nil {
		return nil, failure.Permanent(fmt.Errorf("unsupported calendar provider %q", name))
	}
	return provider, nil
}
