package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/model"
)

const productID = "-//smart-event-relay//EN"

// authTransport adds Basic Auth to each request and turns responses that
// will never succeed on retry into permanent errors.
type authTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.Username != "" || t.Password != "" {
		req.SetBasicAuth(t.Username, t.Password)
	}
	req.Header.Set("User-Agent", "smart-event-relay/1.0")

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest,
		http.StatusNotFound, http.StatusConflict, http.StatusPreconditionFailed,
		http.StatusUnsupportedMediaType:
		resp.Body.Close()
		return nil, failure.Permanent(fmt.Errorf("caldav server rejected %s %s: %s", req.Method, req.URL.Path, resp.Status))
	}
	return resp, nil
}

// CalDAVProvider writes entries as iCalendar objects into the account's
// calendar collection.
type CalDAVProvider struct {
	timeout   time.Duration
	transport http.RoundTripper
	now       func() time.Time
}

// NewCalDAVProvider creates a CalDAVProvider
func NewCalDAVProvider(timeout time.Duration) *CalDAVProvider {
	return &CalDAVProvider{
		timeout:   timeout,
		transport: http.DefaultTransport,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new calendar object named after a fresh UID
func (p *CalDAVProvider) Create(ctx context.Context, acct *model.Account, e Entry) (string, error) {
	collection, err := collectionPath(acct)
	if err != nil {
		return "", err
	}
	uid := uuid.NewString()
	return p.put(ctx, acct, path.Join(collection, uid+".ics"), uid, e)
}

// Update overwrites the calendar object at e.ExternalID. A PUT recreates an
// object that was deleted on the server, so Update never reports ErrNotFound.
func (p *CalDAVProvider) Update(ctx context.Context, acct *model.Account, e Entry) (string, error) {
	if _, err := collectionPath(acct); err != nil {
		return "", err
	}
	uid := strings.TrimSuffix(path.Base(e.ExternalID), ".ics")
	return p.put(ctx, acct, e.ExternalID, uid, e)
}

func (p *CalDAVProvider) put(ctx context.Context, acct *model.Account, objectPath, uid string, e Entry) (string, error) {
	httpClient := &http.Client{
		Timeout: p.timeout,
		Transport: &authTransport{
			Username:  acct.CalDAVUsername,
			Password:  acct.CalDAVPassword,
			Transport: p.transport,
		},
	}

	client, err := caldav.NewClient(httpClient, acct.CalDAVURL)
	if err != nil {
		return "", failure.Permanent(fmt.Errorf("failed to create caldav client: %w", err))
	}

	obj, err := client.PutCalendarObject(ctx, objectPath, p.toICal(uid, e))
	if err != nil {
		return "", fmt.Errorf("failed to put calendar object %s: %w", objectPath, err)
	}
	if obj.Path != "" {
		return obj.Path, nil
	}
	return objectPath, nil
}

// toICal converts an Entry to a calendar holding a single VEVENT
func (p *CalDAVProvider) toICal(uid string, e Entry) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, e.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, p.now())
	ve.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
	if e.Location != "" {
		ve.Props.SetText(ical.PropLocation, e.Location)
	}
	if e.Description != "" {
		ve.Props.SetText(ical.PropDescription, e.Description)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, ve)
	return cal
}

// collectionPath returns the URL path of the account's calendar collection
func collectionPath(acct *model.Account) (string, error) {
	if acct.CalDAVURL == "" {
		return "", failure.Permanent(ErrNoCredentials)
	}
	u, err := url.Parse(acct.CalDAVURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", failure.Permanent(fmt.Errorf("invalid caldav url %q", acct.CalDAVURL))
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return p, nil
}
