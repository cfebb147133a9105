// Package navixy is a small client for the Navixy tracker API. Only the
// sensor catalog endpoint is implemented.
package navixy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
)

// ErrAPI is wrapped by every error the API reports with success=false.
var ErrAPI = errors.New("navixy: api error")

const sensorListPath = "/tracker/sensor/list"

// maxResponseSize caps a Navixy response body.
const maxResponseSize = 4 << 20

// Client fetches tracker sensor catalogs and caches them for a fixed TTL.
type Client struct {
	baseURL    string
	hash       string
	httpClient *http.Client
	ttl        time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[int]cachedList
}

type cachedList struct {
	sensors []sensors.CatalogSensor
	expires time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTTL sets how long a catalog is reused. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the API at baseURL, authenticated by session hash.
func NewClient(baseURL, hash string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("navixy: empty base url")
	}
	if hash == "" {
		return nil, errors.New("navixy: empty session hash")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		hash:       hash,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ttl:        time.Hour,
		logger:     logrus.StandardLogger(),
		now:        time.Now,
		cache:      make(map[int]cachedList),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sensorListRequest struct {
	Hash      string `json:"hash"`
	TrackerID int    `json:"tracker_id"`
}

type apiStatus struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type sensorListResponse struct {
	Success bool                    `json:"success"`
	Status  *apiStatus              `json:"status,omitempty"`
	List    []sensors.CatalogSensor `json:"list"`
}

// TrackerSensors returns the sensors configured on trackerID.
func (c *Client) TrackerSensors(ctx context.Context, trackerID int) ([]sensors.CatalogSensor, error) {
	if trackerID <= 0 {
		return nil, fmt.Errorf("navixy: invalid tracker id %d", trackerID)
	}
	if list, ok := c.cached(trackerID); ok {
		c.logger.WithField("tracker_id", trackerID).Debug("Tracker sensor catalog served from cache")
		return list, nil
	}

	var resp sensorListResponse
	req := sensorListRequest{Hash: c.hash, TrackerID: trackerID}
	if err := c.doJSON(ctx, sensorListPath, req, &resp); err != nil {
		return nil, fmt.Errorf("tracker %d sensor list: %w", trackerID, err)
	}
	if !resp.Success {
		if resp.Status != nil {
			return nil, fmt.Errorf("%w: tracker %d: %s (code %d)", ErrAPI, trackerID, resp.Status.Description, resp.Status.Code)
		}
		return nil, fmt.Errorf("%w: tracker %d: request not successful", ErrAPI, trackerID)
	}

	c.logger.WithFields(logrus.Fields{
		"tracker_id": trackerID,
		"sensors":    len(resp.List),
	}).Debug("Fetched tracker sensor catalog")
	c.store(trackerID, resp.List)
	return resp.List, nil
}

func (c *Client) cached(trackerID int) ([]sensors.CatalogSensor, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[trackerID]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.cache, trackerID)
		return nil, false
	}
	return append([]sensors.CatalogSensor(nil), e.sensors...), true
}

func (c *Client) store(trackerID int, list []sensors.CatalogSensor) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[trackerID] = cachedList{sensors: append([]sensors.CatalogSensor(nil), list...), expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Client) doJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > maxResponseSize {
		return fmt.Errorf("response body exceeds %d bytes", maxResponseSize)
	}
	c.logger.WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"response_size": len(data),
	}).Debug("Received Navixy response")

	// Navixy reports API failures as JSON bodies with non-2xx codes too.
	if resp.StatusCode >= 300 {
		var status sensorListResponse
		if json.Unmarshal(data, &status) == nil && status.Status != nil {
			return fmt.Errorf("%w: %s (code %d)", ErrAPI, status.Status.Description, status.Status.Code)
		}
		return fmt.Errorf("navixy: http %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
