package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/model"
)

// OAuthConfig returns the OAuth2 client configuration for delegated calendar access
func OAuthConfig(cfg config.CalendarConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{gcal.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}
}

// GoogleProvider writes entries through the Google Calendar API using the
// account's stored refresh token.
type GoogleProvider struct {
	oauth      *oauth2.Config
	calendarID string
	// endpoint overrides the API base URL; empty means the public API
	endpoint string
}

// NewGoogleProvider creates a GoogleProvider
func NewGoogleProvider(cfg config.CalendarConfig) *GoogleProvider {
	calendarID := cfg.GoogleCalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleProvider{
		oauth:      OAuthConfig(cfg),
		calendarID: calendarID,
	}
}

func (p *GoogleProvider) service(ctx context.Context, acct *model.Account) (*gcal.Service, error) {
	if acct.GoogleRefreshToken == "" {
		return nil, failure.Permanent(ErrNoCredentials)
	}

	client := p.oauth.Client(ctx, &oauth2.Token{RefreshToken: acct.GoogleRefreshToken})
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

// Create inserts a new calendar event
func (p *GoogleProvider) Create(ctx context.Context, acct *model.Account, e Entry) (string, error) {
	svc, err := p.service(ctx, acct)
	if err != nil {
		return "", err
	}

	created, err := svc.Events.Insert(p.calendarID, googleEvent(e)).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogle(fmt.Errorf("failed to create calendar event: %w", err))
	}
	return created.Id, nil
}

// Update replaces the calendar event identified by e.ExternalID
func (p *GoogleProvider) Update(ctx context.Context, acct *model.Account, e Entry) (string, error) {
	svc, err := p.service(ctx, acct)
	if err != nil {
		return "", err
	}

	updated, err := svc.Events.Update(p.calendarID, e.ExternalID, googleEvent(e)).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogle(fmt.Errorf("failed to update calendar event %s: %w", e.ExternalID, err))
	}
	return updated.Id, nil
}

func googleEvent(e Entry) *gcal.Event {
	return &gcal.Event{
		Summary:     e.Title,
		Location:    e.Location,
		Description: e.Description,
		Start: &gcal.EventDateTime{
			DateTime: e.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &gcal.EventDateTime{
			DateTime: e.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}

// classifyGoogle sorts API and token errors into not-found, permanent and transient
func classifyGoogle(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return failure.Permanent(err)
		}
		if rerr.Response != nil && rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500 &&
			rerr.Response.StatusCode != http.StatusTooManyRequests {
			return failure.Permanent(err)
		}
		return failure.Transient(err)
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return failure.Transient(err)
	}

	switch {
	case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return failure.Transient(err)
	case gerr.Code == http.StatusForbidden && rateLimited(gerr):
		return failure.Transient(err)
	case gerr.Code >= 400:
		return failure.Permanent(err)
	}
	return failure.Transient(err)
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
