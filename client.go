package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// NotificationTTL is how long a submission notification stays visible.
const NotificationTTL = 4 * time.Second

type NoticeKind int

const (
	NoticeSuccess NoticeKind = iota + 1
	NoticeError
)

// Notification is the transient message shown after a submission ends.
type Notification struct {
	Kind    NoticeKind
	Message string
}

var ErrSubmitInFlight = errors.New("a submission is already in flight")

// RelayClient posts submissions to the relay endpoint.
type RelayClient struct {
	url        string
	httpClient *http.Client
}

// NewRelayClient returns a client for url. A zero timeout leaves the request
// bounded only by its context.
func NewRelayClient(url string, timeout time.Duration) *RelayClient {
	return &RelayClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Post sends sub and decodes the relay's JSON reply. Any HTTP status with a
// decodable body is a reply; the caller looks at Success, not the status.
func (c *RelayClient) Post(ctx context.Context, sub ContactSubmission) (contactResponse, error) {
	var out contactResponse

	body, err := json.Marshal(sub)
	if err != nil {
		return out, fmt.Errorf("relay: encoding submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("relay: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("relay: decoding %s response: %w", resp.Status, err)
	}
	return out, nil
}

// Submitter allows one in-flight submission at a time per form.
type Submitter struct {
	client   *RelayClient
	inFlight atomic.Bool
}

func NewSubmitter(client *RelayClient) *Submitter {
	return &Submitter{client: client}
}

// Submit posts sub and maps the result to a notification. It returns
// ErrSubmitInFlight without sending anything while another call is running.
func (s *Submitter) Submit(ctx context.Context, sub ContactSubmission) (Notification, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Notification{}, ErrSubmitInFlight
	}
	defer s.inFlight.Store(false)

	resp, err := s.client.Post(ctx, sub)
	return notificationFor(resp, err), nil
}

func (s *Submitter) InFlight() bool {
	return s.inFlight.Load()
}

func notificationFor(resp contactResponse, err error) Notification {
	switch {
	case err != nil:
		return Notification{Kind: NoticeError, Message: UnreachableNotice}
	case resp.Success:
		return Notification{Kind: NoticeSuccess, Message: SubmitSuccessNotice}
	case resp.Message != "":
		return Notification{Kind: NoticeError, Message: resp.Message}
	default:
		return Notification{Kind: NoticeError, Message: SubmitFailedNotice}
	}
}
