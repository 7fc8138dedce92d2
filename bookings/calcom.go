package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/brighttails/credit-engine/payments"
)

const (
	defaultBaseURL = "https://api.cal.com"
	defaultTimeout = 10 * time.Second

	// Versioned API header required by Cal.com v2.
	apiVersionHeader = "cal-api-version"
	apiVersion       = "2024-08-13"
)

// CalComClient implements Provider against the Cal.com v2 API.
type CalComClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// CalComOption customizes the client.
type CalComOption func(*CalComClient)

// WithBaseURL points the client at a different API host (tests use an
// httptest server).
func WithBaseURL(u string) CalComOption {
	return func(c *CalComClient) { c.baseURL = u }
}

// WithTimeout bounds each request. A slow scheduling provider must not
// hang a status-check request indefinitely.
func WithTimeout(d time.Duration) CalComOption {
	return func(c *CalComClient) { c.client.Timeout = d }
}

func NewCalComClient(apiKey string, opts ...CalComOption) *CalComClient {
	c := &CalComClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// calBookingWire is the provider's booking shape. Timestamps arrive as
// RFC3339 strings and are parsed leniently: an unparseable or absent
// field becomes a nil time, which the reconciler treats as anomalous.
type calBookingWire struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Start     string `json:"start"`
	CreatedAt string `json:"createdAt"`
}

type calListResponse struct {
	Status string           `json:"status"`
	Data   []calBookingWire `json:"data"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ListBookings fetches all bookings where the given email is an attendee.
func (c *CalComClient) ListBookings(ctx context.Context, attendeeEmail string) ([]Booking, error) {
	endpoint := fmt.Sprintf("%s/v2/bookings?attendeeEmail=%s",
		c.baseURL, url.QueryEscape(attendeeEmail))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, payments.WrapCallError(ProviderCalCom, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(apiVersionHeader, apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &payments.TimeoutError{Provider: ProviderCalCom, Op: "list bookings"}
		}
		return nil, payments.WrapCallError(ProviderCalCom, "list bookings", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, payments.WrapCallError(ProviderCalCom, "list bookings",
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	var out calListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, payments.WrapCallError(ProviderCalCom, "decode response", err)
	}
	if out.Status != "" && out.Status != "success" {
		return nil, payments.WrapCallError(ProviderCalCom, "list bookings",
			fmt.Errorf("provider error: %s", out.Error.Message))
	}

	bookings := make([]Booking, 0, len(out.Data))
	for _, w := range out.Data {
		bookings = append(bookings, Booking{
			UID:       w.UID,
			Title:     w.Title,
			Status:    w.Status,
			Start:     parseTime(w.Start),
			CreatedAt: parseTime(w.CreatedAt),
		})
	}
	return bookings, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isTimeout(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
