// Package channex is the HTTP adapter to the channel distribution
// partner's rates and availability API.
package channex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"staysync/pkg/logger"
)

// Result is the classified outcome of one partner call. Classification
// happens here so the worker never inspects raw HTTP state.
type Result struct {
	StatusCode  int
	Success     bool
	RateLimited bool
	Retryable   bool
	Err         string
	Duration    time.Duration
}

// RateValue is one nightly rate. Rate must be a two-decimal string,
// the partner rejects numeric values.
type RateValue struct {
	PropertyID string `json:"property_id"`
	RatePlanID string `json:"rate_plan_id"`
	Date       string `json:"date"`
	Rate       string `json:"rate"`
}

type AvailabilityValue struct {
	PropertyID   string `json:"property_id"`
	RoomTypeID   string `json:"room_type_id"`
	Date         string `json:"date"`
	Availability int    `json:"availability"`
}

type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Result]
	baseURL    string
	apiKey     string
	propertyID string
	requestID  string
	log        *logger.Logger
}

func NewClient(baseURL, apiKey, propertyID, requestID string, log *logger.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "channex:" + propertyID,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    gobreaker.NewCircuitBreaker[*Result](settings),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		propertyID: propertyID,
		requestID:  requestID,
		log:        log,
	}
}

// PushRates sends nightly rates for one rate plan. The partner takes
// rates through the restrictions endpoint.
func (c *Client) PushRates(ctx context.Context, ratePlanID string, values []RateValue) (*Result, error) {
	for i := range values {
		values[i].PropertyID = c.propertyID
		values[i].RatePlanID = ratePlanID
	}
	return c.post(ctx, "/restrictions", map[string]interface{}{"values": values})
}

// PushAvailability sends nightly availability counts for one room type.
func (c *Client) PushAvailability(ctx context.Context, roomTypeID string, values []AvailabilityValue) (*Result, error) {
	for i := range values {
		values[i].PropertyID = c.propertyID
		values[i].RoomTypeID = roomTypeID
	}
	return c.post(ctx, "/availability", map[string]interface{}{"values": values})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	result, execErr := c.breaker.Execute(func() (*Result, error) {
		return c.do(ctx, http.MethodPost, path, body)
	})
	if result != nil {
		return result, nil
	}
	if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
		// An open breaker is treated like a transient upstream outage.
		return &Result{Retryable: true, Err: "partner circuit open"}, nil
	}
	return nil, execErr
}

// do executes one request. The error return exists for the breaker:
// network faults and 5xx count as failures, 429 and other 4xx do not.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*Result, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// The partner authenticates with a static key header, not a
	// bearer token.
	req.Header.Set("user-api-key", c.apiKey)
	req.Header.Set("User-Agent", "staysync/1.0")
	if c.requestID != "" {
		req.Header.Set("X-Request-ID", c.requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Result{Retryable: true, Err: err.Error(), Duration: time.Since(start)}, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	result := &Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Success = true
		return result, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		result.RateLimited = true
		result.Retryable = true
		result.Err = "rate limited by partner"
		return result, nil
	case resp.StatusCode >= 500:
		result.Retryable = true
		result.Err = fmt.Sprintf("server error %d: %s", resp.StatusCode, errorMessage(respBody))
		return result, errors.New(result.Err)
	default:
		result.Err = fmt.Sprintf("client error %d: %s", resp.StatusCode, errorMessage(respBody))
		return result, nil
	}
}

func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
