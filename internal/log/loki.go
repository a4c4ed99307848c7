package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	defaultLokiBatchSize     = 100
	defaultLokiFlushInterval = 5 * time.Second
	lokiMaxAttempts          = 3
)

// LokiConfig contains configuration for Loki writer.
type LokiConfig struct {
	Endpoint      string            // push API URL, e.g. http://loki:3100/loki/api/v1/push
	Labels        map[string]string // stream labels; "job" defaults to broadcast-relay
	BatchSize     int
	FlushInterval string
}

// LokiWriter is an io.Writer that batches lines and pushes them to Grafana
// Loki. A batch is pushed when it is full, on every flush interval, and on
// Close. Pushes happen outside the writer lock.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	client        *http.Client

	mu     sync.Mutex
	batch  [][2]string
	closed bool

	pushMu sync.Mutex // serializes pushes so streams stay ordered
	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// NewLokiWriter starts a writer and its background flusher.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("loki endpoint is empty")
	}
	interval := defaultLokiFlushInterval
	if cfg.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush interval: %w", err)
		}
		if d > 0 {
			interval = d
		}
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = defaultLokiBatchSize
	}

	labels := map[string]string{"job": "broadcast-relay"}
	maps.Copy(labels, cfg.Labels)

	lw := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     size,
		flushInterval: interval,
		client:        &http.Client{Timeout: 10 * time.Second},
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go lw.run()
	return lw, nil
}

// Write queues one log line.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\n"))

	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return 0, fmt.Errorf("loki writer is closed")
	}
	lw.batch = append(lw.batch, [2]string{strconv.FormatInt(time.Now().UnixNano(), 10), line})
	full := len(lw.batch) >= lw.batchSize
	lw.mu.Unlock()

	if full {
		select {
		case lw.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Close pushes what is queued and stops the flusher.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	lw.mu.Unlock()

	close(lw.stop)
	<-lw.done
	return lw.Flush()
}

// Flush pushes the queued lines now.
func (lw *LokiWriter) Flush() error {
	lw.pushMu.Lock()
	defer lw.pushMu.Unlock()

	lw.mu.Lock()
	values := lw.batch
	lw.batch = nil
	lw.mu.Unlock()

	if len(values) == 0 {
		return nil
	}
	return lw.push(values)
}

func (lw *LokiWriter) run() {
	defer close(lw.done)
	ticker := time.NewTicker(lw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lw.stop:
			return
		case <-ticker.C:
		case <-lw.kick:
		}
		if err := lw.Flush(); err != nil {
			// slog may be writing to us; report on stderr only.
			fmt.Fprintf(os.Stderr, "loki push: %v\n", err)
		}
	}
}

func (lw *LokiWriter) push(values [][2]string) error {
	body, err := json.Marshal(lokiPushRequest{
		Streams: []lokiStream{{Stream: lw.labels, Values: values}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal loki request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < lokiMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond << (attempt - 1))
		}
		if lastErr = lw.send(body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("dropped %d lines after %d attempts: %w", len(values), lokiMaxAttempts, lastErr)
}

func (lw *LokiWriter) send(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
