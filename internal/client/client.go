// Package client provides a Go client for the scenario generation server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrStreamDropped is returned by StreamEvents when the server cut the
// stream off for reading too slowly. Reconnecting replays the backlog.
var ErrStreamDropped = errors.New("event stream dropped by server")

// Client talks to the scenario generation server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses SCENARIOGEN_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via SCENARIOGEN_CLIENT_TIMEOUT (default 30m, since
// synchronous generation waits for the whole run).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SCENARIOGEN_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 30 * time.Minute
	if t := os.Getenv("SCENARIOGEN_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode         int
	Code               string
	Message            string
	ScenariosGenerated int
	RunID              string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload models.ErrorPayload
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
			apiErr.ScenariosGenerated = payload.ScenariosGenerated
			apiErr.RunID = payload.RunID
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Generate runs req synchronously on the server and returns the summary.
// A run that did not complete is returned as *APIError.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest) (*models.Summary, error) {
	var summary models.Summary
	path := "/experiments/" + url.PathEscape(req.ExperimentID) + "/scenarios/generate"
	if err := c.do(ctx, http.MethodPost, path, req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListScenarios returns the stored scenarios of an experiment.
func (c *Client) ListScenarios(ctx context.Context, experimentID string) ([]models.Scenario, error) {
	var scenarios []models.Scenario
	if err := c.do(ctx, http.MethodGet, "/experiments/"+url.PathEscape(experimentID)+"/scenarios", nil, &scenarios); err != nil {
		return nil, err
	}
	return scenarios, nil
}

// StartRun starts req in the background and returns the new run.
func (c *Client) StartRun(ctx context.Context, req models.GenerationRequest) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, http.MethodPost, "/runs", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns recent runs, newest first. limit <= 0 uses the server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	path := "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var runs []models.Run
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns one run.
func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// StopRun asks the server to stop a live run.
func (c *Client) StopRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(id)+"/stop", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RecentEvents returns the replay backlog of a live run.
func (c *Client) RecentEvents(ctx context.Context, id string) ([]models.ProgressEvent, error) {
	var events []models.ProgressEvent
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id)+"/events/recent", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// StreamEvents follows a run's live event stream, backlog first. onEvent is
// called for each event in order; return an error from it to stop. Returns
// nil when the server ends the stream after the terminal event.
func (c *Client) StreamEvents(ctx context.Context, id string, onEvent func(models.ProgressEvent) error) error {
	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/runs/" + url.PathEscape(id) + "/events")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return handshakeError(resp)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
				return ErrStreamDropped
			}
			return fmt.Errorf("read event: %w", err)
		}

		var ev models.ProgressEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}

func handshakeError(resp *http.Response) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	var payload models.ErrorPayload
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
	}
	return apiErr
}
