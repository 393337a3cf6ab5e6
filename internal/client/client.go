// Package client is a thin Go client for the gearshare HTTP API, used by
// partner front-ends that act on behalf of a signed-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"gearshare/internal/availability"
	"gearshare/internal/models"
	"gearshare/internal/service"
)

// APIError is a non-2xx answer of the API.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Client calls the booking API with one API key pair.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache caches calendar reads. SetCalendar invalidates the entry.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

type CreateBookingInput struct {
	Category  string    `json:"category"`
	ItemID    int64     `json:"item_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CardID    string    `json:"card_id"`
	ReturnURL string    `json:"return_url,omitempty"`
}

func (c *Client) CreateBooking(ctx context.Context, actorID int64, in CreateBookingInput) (*service.CreateResult, error) {
	var out service.CreateResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/bookings", actorID, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBooking(ctx context.Context, actorID, bookingID int64) (*models.Booking, error) {
	var out models.Booking
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", bookingID), actorID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStatus asks for a transition. preauthID is only needed for pending.
func (c *Client) UpdateStatus(ctx context.Context, actorID, bookingID int64, status, preauthID string) (*models.Booking, error) {
	body := map[string]string{"status": status}
	if preauthID != "" {
		body["preauth_id"] = preauthID
	}
	var out models.Booking
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/status", bookingID), actorID, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBookings returns the actor's bookings, optionally filtered by status.
func (c *Client) ListBookings(ctx context.Context, actorID int64, statuses []string, limit, offset int) ([]*models.Booking, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/bookings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var wrap struct {
		Bookings []*models.Booking `json:"bookings"`
	}
	if err := c.do(ctx, http.MethodGet, path, actorID, nil, &wrap); err != nil {
		return nil, err
	}
	return wrap.Bookings, nil
}

type calendarBody struct {
	ItemID    int64             `json:"item_id"`
	Intervals []models.Interval `json:"intervals"`
}

func (c *Client) GetCalendar(ctx context.Context, itemID int64) ([]models.Interval, error) {
	key := calendarCacheKey(itemID)
	var out calendarBody
	if c.readCache(ctx, key, &out) {
		return out.Intervals, nil
	}

	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/items/%d/calendar", itemID), 0, nil, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out.Intervals, nil
}

func (c *Client) SetCalendar(ctx context.Context, actorID, itemID int64, intervals []availability.IntervalInput) ([]models.Interval, error) {
	body := map[string]any{"intervals": intervals}
	var out calendarBody
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/items/%d/calendar", itemID), actorID, body, &out); err != nil {
		return nil, err
	}
	if c.redis != nil {
		_ = c.redis.Del(ctx, calendarCacheKey(itemID)).Err()
	}
	return out.Intervals, nil
}

func calendarCacheKey(itemID int64) string {
	return fmt.Sprintf("gearshare:calendar:%d", itemID)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) do(ctx context.Context, method, path string, actorID int64, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req, actorID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError understands both {"error": "text"} and {"error": {code, message}}.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var wrap struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrap); err != nil || len(wrap.Error) == 0 {
		return apiErr
	}
	var text string
	if json.Unmarshal(wrap.Error, &text) == nil {
		apiErr.Message = text
		return apiErr
	}
	_ = json.Unmarshal(wrap.Error, apiErr)
	return apiErr
}

func (c *Client) addHeaders(req *http.Request, actorID int64) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
	if actorID > 0 {
		req.Header.Set("x-actor-id", strconv.FormatInt(actorID, 10))
	}
}
