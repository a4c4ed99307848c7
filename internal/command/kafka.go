package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/bcrelay/internal/config"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
//	{
//	  "version":    "v1",
//	  "target":     "relay-01",
//	  "command":    "destination_add",
//	  "timestamp":  "2026-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    {"ip": "192.168.3.5"}
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // Node hostname or "*" for broadcast
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// KafkaResponse is published to the response topic after a command runs.
type KafkaResponse struct {
	Version   string     `json:"version"`
	Source    string     `json:"source"`
	Command   string     `json:"command"`
	RequestID string     `json:"request_id"`
	Timestamp time.Time  `json:"timestamp"`
	Result    any        `json:"result,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
type KafkaCommandConsumer struct {
	ccConfig config.CommandChannelConfig
	hostname string
	reader   messageReader
	writer   messageWriter // nil when no response topic is configured
	handler  *CommandHandler
	ttl      time.Duration
}

// NewKafkaCommandConsumer creates a consumer for the configured command topic.
func NewKafkaCommandConsumer(ccConfig config.CommandChannelConfig, hostname string, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	kc := ccConfig.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if kc.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if kc.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := 5 * time.Minute
	if ccConfig.CommandTTL != "" {
		var err error
		ttl, err = time.ParseDuration(ccConfig.CommandTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid command_ttl %q: %w", ccConfig.CommandTTL, err)
		}
	}

	startOffset := kafka.LastOffset
	if kc.AutoOffsetReset == "earliest" {
		startOffset = kafka.FirstOffset
	}

	c := &KafkaCommandConsumer{
		ccConfig: ccConfig,
		hostname: hostname,
		handler:  handler,
		ttl:      ttl,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        kc.Brokers,
			Topic:          kc.Topic,
			GroupID:        kc.GroupID,
			StartOffset:    startOffset,
			MinBytes:       1,
			MaxBytes:       10 << 20,
			CommitInterval: time.Second,
			MaxWait:        time.Second,
		}),
	}
	if kc.ResponseTopic != "" {
		c.writer = &kafka.Writer{
			Addr:         kafka.TCP(kc.Brokers...),
			Topic:        kc.ResponseTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return c, nil
}

// Start consumes commands until ctx is cancelled.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started",
		"brokers", c.ccConfig.Kafka.Brokers,
		"topic", c.ccConfig.Kafka.Topic,
		"group_id", c.ccConfig.Kafka.GroupID,
		"hostname", c.hostname,
		"ttl", c.ttl,
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("kafka command consumer stopped", "reason", err)
				return err
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

// processMessage runs one command. Commands for other nodes and commands
// older than the TTL are skipped without error.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		slog.Debug("skipping command not targeting this node",
			"target", kCmd.Target,
			"hostname", c.hostname,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if !kCmd.Timestamp.IsZero() && time.Since(kCmd.Timestamp) > c.ttl {
		slog.Warn("skipping stale command",
			"command", kCmd.Command,
			"request_id", kCmd.RequestID,
			"age", time.Since(kCmd.Timestamp),
			"ttl", c.ttl,
		)
		return nil
	}

	slog.Info("received kafka command",
		"command", kCmd.Command,
		"request_id", kCmd.RequestID,
		"target", kCmd.Target,
	)

	resp := c.handler.Handle(ctx, Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	})
	if err := c.respond(ctx, kCmd, resp); err != nil {
		slog.Warn("failed to publish command response", "request_id", kCmd.RequestID, "error", err)
	}

	if resp.Error != nil {
		return fmt.Errorf("command %s failed: %s", kCmd.Command, resp.Error.Message)
	}
	slog.Info("command executed successfully", "method", kCmd.Command, "request_id", kCmd.RequestID)
	return nil
}

func (c *KafkaCommandConsumer) respond(ctx context.Context, kCmd KafkaCommand, resp Response) error {
	if c.writer == nil {
		return nil
	}
	data, err := json.Marshal(KafkaResponse{
		Version:   "v1",
		Source:    c.hostname,
		Command:   kCmd.Command,
		RequestID: kCmd.RequestID,
		Timestamp: time.Now().UTC(),
		Result:    resp.Result,
		Error:     resp.Error,
	})
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(c.hostname), Value: data})
}

// Stop closes the reader and the response writer. Stopping twice is a no-op.
func (c *KafkaCommandConsumer) Stop() error {
	var errs []error
	if c.reader != nil {
		slog.Info("closing kafka command consumer")
		if err := c.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka reader: %w", err))
		}
		c.reader = nil
	}
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
		c.writer = nil
	}
	return errors.Join(errs...)
}
