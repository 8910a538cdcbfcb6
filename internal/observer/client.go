// Package observer follows the realtime notification stream and re-queries
// the dashboard endpoints whenever something changes. Events are refresh
// signals only; every snapshot is pulled fresh over HTTP.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nikhilbhutani/docpulse/internal/aggregation"
	"github.com/nikhilbhutani/docpulse/internal/models"
)

const (
	QueryStats    = "stats"
	QueryAccuracy = "accuracy"
	QueryMetrics  = "extracted-metrics"
	QueryRecent   = "recent"
)

// Snapshot is one refresh of the dashboard. A query that failed has an entry
// in Errors and leaves its field zero; the others are unaffected.
type Snapshot struct {
	Trigger  *models.NotificationEvent
	Stats    aggregation.Stats
	Accuracy map[string]float64
	Metrics  aggregation.ExtractedMetrics
	Recent   []models.DocumentSummary
	Errors   map[string]error
	TakenAt  time.Time
}

type Client struct {
	apiURL         string
	wsURL          string
	recentLimit    int
	reconnectDelay time.Duration
	http           *http.Client
	dialer         *websocket.Dialer
	logger         *slog.Logger
}

// New builds a client for the API at apiURL. An empty wsURL means the
// websocket is served by the API itself at /ws.
func New(apiURL, wsURL string, recentLimit int, reconnectDelay time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiURL = strings.TrimRight(apiURL, "/")
	if wsURL == "" {
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("parse api url: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
		wsURL = u.String()
	}
	return &Client{
		apiURL:         apiURL,
		wsURL:          wsURL,
		recentLimit:    recentLimit,
		reconnectDelay: reconnectDelay,
		http:           &http.Client{Timeout: 10 * time.Second},
		dialer:         websocket.DefaultDialer,
		logger:         logger,
	}, nil
}

// Run refreshes once per connection and again after every event, handing each
// snapshot to handle. Dropped connections are retried after the reconnect
// delay; events missed while disconnected are not replayed. Run returns when
// ctx is done.
func (c *Client) Run(ctx context.Context, handle func(Snapshot)) error {
	for {
		err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("observer disconnected", "error", err, "retry_in", c.reconnectDelay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context, handle func(Snapshot)) error {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.logger.Info("observer connected", "url", c.wsURL)
	handle(c.Refresh(ctx, nil))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}

		var evt models.NotificationEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn("ignoring malformed event", "error", err)
			continue
		}
		handle(c.Refresh(ctx, &evt))
	}
}

// Refresh queries every dashboard endpoint concurrently.
func (c *Client) Refresh(ctx context.Context, trigger *models.NotificationEvent) Snapshot {
	snap := Snapshot{Trigger: trigger, Errors: map[string]error{}}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	fetch := func(name, path string, dest any) {
		defer wg.Done()
		if err := c.getJSON(ctx, path, dest); err != nil {
			mu.Lock()
			snap.Errors[name] = err
			mu.Unlock()
		}
	}

	var recent []models.DocumentSummary
	wg.Add(4)
	go fetch(QueryStats, "/api/dashboard/stats", &snap.Stats)
	go fetch(QueryAccuracy, "/api/dashboard/accuracy", &snap.Accuracy)
	go fetch(QueryMetrics, "/api/dashboard/extracted-metrics", &snap.Metrics)
	go fetch(QueryRecent, fmt.Sprintf("/api/documents/recent?limit=%d", c.recentLimit), &recent)
	wg.Wait()

	if _, failed := snap.Errors[QueryStats]; failed {
		snap.Stats = aggregation.Stats{}
	}
	if _, failed := snap.Errors[QueryAccuracy]; failed {
		snap.Accuracy = nil
	}
	if _, failed := snap.Errors[QueryMetrics]; failed {
		snap.Metrics = aggregation.ExtractedMetrics{}
	}
	if _, failed := snap.Errors[QueryRecent]; !failed {
		snap.Recent = recent
	}
	snap.TakenAt = time.Now()
	return snap
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, body.Error)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// LogSnapshot writes one line for the snapshot plus one per failed query.
func LogSnapshot(logger *slog.Logger, snap Snapshot) {
	attrs := []any{
		"total", snap.Stats.Total,
		"classified", snap.Stats.Classified,
		"extracted", snap.Stats.Extracted,
		"errors", snap.Stats.Errors,
		"today", snap.Stats.Today,
		"accuracy", snap.Accuracy,
		"average_amount", snap.Metrics.AverageAmount,
		"recent", len(snap.Recent),
	}
	if snap.Trigger != nil {
		attrs = append(attrs, "event", snap.Trigger.Type, "file_id", snap.Trigger.DocumentID)
	}
	logger.Info("dashboard snapshot", attrs...)

	for query, err := range snap.Errors {
		logger.Error("dashboard query failed", "query", query, "error", err)
	}
}
