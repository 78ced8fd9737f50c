// Package push delivers reminder notifications through the Expo push service.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
)

// ErrInvalidToken is returned when the delivery token is empty, malformed or
// no longer registered with the push service.
var ErrInvalidToken = errors.New("invalid push token")

var expoTokenRe = regexp.MustCompile(`^Expo(?:nent)?PushToken\[[^\]]+\]$`)

// Notification is a single push message
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers push notifications
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
	Badge int               `json:"badge,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data   expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoClient sends notifications to the Expo push API
type ExpoClient struct {
	client   *resty.Client
	endpoint string
}

// NewExpoClient creates an ExpoClient
func NewExpoClient(cfg config.PushConfig) *ExpoClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.AccessToken != "" {
		client.SetAuthToken(cfg.AccessToken)
	}
	return &ExpoClient{client: client, endpoint: cfg.Endpoint}
}

// Send delivers n and classifies the outcome: ErrInvalidToken and rejected
// messages are permanent, everything else is transient.
func (c *ExpoClient) Send(ctx context.Context, n Notification) error {
	token := strings.TrimSpace(n.Token)
	if token == "" || !expoTokenRe.MatchString(token) {
		return failure.Permanent(fmt.Errorf("%w: %q", ErrInvalidToken, token))
	}

	var out expoResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(expoMessage{
			To:    token,
			Title: n.Title,
			Body:  n.Body,
			Data:  n.Data,
			Sound: "default",
			Badge: 1,
		}).
		SetResult(&out).
		SetError(&out).
		Post(c.endpoint)
	if err != nil {
		return failure.Transient(fmt.Errorf("failed to send push notification: %w", err))
	}

	if resp.IsError() {
		msg := resp.Status()
		if len(out.Errors) > 0 {
			msg = fmt.Sprintf("%s: %s", out.Errors[0].Code, out.Errors[0].Message)
		}
		if resp.StatusCode() == http.StatusRequestEntityTooLarge {
			return failure.Permanent(fmt.Errorf("push service rejected message: %s", msg))
		}
		return failure.Transient(fmt.Errorf("push service error: %s", msg))
	}

	ticket := out.Data
	if ticket.Status == "ok" {
		return nil
	}

	switch ticket.Details.Error {
	case "DeviceNotRegistered":
		return failure.Permanent(fmt.Errorf("%w: %s", ErrInvalidToken, ticket.Message))
	case "MessageTooBig":
		return failure.Permanent(fmt.Errorf("push service rejected message: %s", ticket.Message))
	}
	if ticket.Status == "" {
		return failure.Transient(errors.New("push service returned no ticket"))
	}
	return failure.Transient(fmt.Errorf("push notification failed: %s %s", ticket.Details.Error, ticket.Message))
}
