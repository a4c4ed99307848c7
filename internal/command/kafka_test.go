package command

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bcrelay/internal/config"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func kafkaMessage(t *testing.T, kc KafkaCommand) kafka.Message {
	t.Helper()
	data, err := json.Marshal(kc)
	require.NoError(t, err)
	return kafka.Message{Topic: "relay-commands", Value: data}
}

func newTestConsumer(rc RelayController, w *recordingWriter) *KafkaCommandConsumer {
	c := &KafkaCommandConsumer{
		hostname: "relay-01",
		handler:  NewCommandHandler(rc, nil),
		ttl:      time.Minute,
	}
	if w != nil {
		c.writer = w
	}
	return c
}

func TestNewKafkaCommandConsumerValidation(t *testing.T) {
	valid := config.CommandChannelConfig{
		Enabled: true,
		Type:    "kafka",
		Kafka: config.CommandKafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "relay-commands",
			GroupID: "broadcast-relay-relay-01",
		},
	}

	tests := []struct {
		name   string
		mutate func(*config.CommandChannelConfig)
	}{
		{"no brokers", func(c *config.CommandChannelConfig) { c.Kafka.Brokers = nil }},
		{"no topic", func(c *config.CommandChannelConfig) { c.Kafka.Topic = "" }},
		{"no group", func(c *config.CommandChannelConfig) { c.Kafka.GroupID = "" }},
		{"bad ttl", func(c *config.CommandChannelConfig) { c.CommandTTL = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Kafka.Brokers = append([]string(nil), valid.Kafka.Brokers...)
			tt.mutate(&cfg)
			_, err := NewKafkaCommandConsumer(cfg, "relay-01", NewCommandHandler(new(mockRelay), nil))
			assert.Error(t, err)
		})
	}

	cfg := valid
	cfg.CommandTTL = "30s"
	cfg.Kafka.ResponseTopic = "relay-responses"
	c, err := NewKafkaCommandConsumer(cfg, "relay-01", NewCommandHandler(new(mockRelay), nil))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.ttl)
	assert.NotNil(t, c.writer)
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}

func TestProcessMessageTargets(t *testing.T) {
	tests := []struct {
		target string
		runs   bool
	}{
		{"relay-01", true},
		{"*", true},
		{"", true},
		{"relay-02", false},
	}
	for _, tt := range tests {
		t.Run("target="+tt.target, func(t *testing.T) {
			rc := new(mockRelay)
			rc.On("AddDestination", netip.MustParseAddr("192.168.3.5")).Return(nil)
			c := newTestConsumer(rc, nil)

			err := c.processMessage(context.Background(), kafkaMessage(t, KafkaCommand{
				Version:   "v1",
				Target:    tt.target,
				Command:   MethodDestinationAdd,
				Timestamp: time.Now(),
				RequestID: "req-1",
				Payload:   json.RawMessage(`{"ip":"192.168.3.5"}`),
			}))
			require.NoError(t, err)
			if tt.runs {
				rc.AssertCalled(t, "AddDestination", netip.MustParseAddr("192.168.3.5"))
			} else {
				rc.AssertNotCalled(t, "AddDestination", mock.Anything)
			}
		})
	}
}

func TestProcessMessageStale(t *testing.T) {
	rc := new(mockRelay)
	c := newTestConsumer(rc, nil)

	err := c.processMessage(context.Background(), kafkaMessage(t, KafkaCommand{
		Target:    "*",
		Command:   MethodAdapterEnable,
		Timestamp: time.Now().Add(-time.Hour),
		Payload:   json.RawMessage(`{"name":"eth0"}`),
	}))
	require.NoError(t, err)
	rc.AssertNotCalled(t, "EnableAdapter", mock.Anything)
}

func TestProcessMessageErrors(t *testing.T) {
	c := newTestConsumer(new(mockRelay), nil)

	err := c.processMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)

	err = c.processMessage(context.Background(), kafkaMessage(t, KafkaCommand{
		Target:  "relay-01",
		Command: "task_create",
	}))
	assert.Error(t, err)
}

func TestProcessMessagePublishesResponse(t *testing.T) {
	rc := new(mockRelay)
	rc.On("EnableAdapter", "eth0").Return(nil)
	rc.On("EnableAdapter", "eth7").Return(errors.New("no such device"))
	w := &recordingWriter{}
	c := newTestConsumer(rc, w)

	require.NoError(t, c.processMessage(context.Background(), kafkaMessage(t, KafkaCommand{
		Target:    "relay-01",
		Command:   MethodAdapterEnable,
		RequestID: "req-ok",
		Payload:   json.RawMessage(`{"name":"eth0"}`),
	})))
	assert.Error(t, c.processMessage(context.Background(), kafkaMessage(t, KafkaCommand{
		Target:    "relay-01",
		Command:   MethodAdapterEnable,
		RequestID: "req-fail",
		Payload:   json.RawMessage(`{"name":"eth7"}`),
	})))

	require.Len(t, w.msgs, 2)

	var okResp, failResp KafkaResponse
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &okResp))
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &failResp))

	assert.Equal(t, []byte("relay-01"), w.msgs[0].Key)
	assert.Equal(t, "req-ok", okResp.RequestID)
	assert.Equal(t, "relay-01", okResp.Source)
	assert.Nil(t, okResp.Error)
	assert.Equal(t, "req-fail", failResp.RequestID)
	require.NotNil(t, failResp.Error)
	assert.Contains(t, failResp.Error.Message, "no such device")
}

func TestProcessMessageResponseFailureIsNotFatal(t *testing.T) {
	rc := new(mockRelay)
	rc.On("Destinations").Return([]netip.Addr{})
	w := &recordingWriter{err: errors.New("broker down")}
	c := newTestConsumer(rc, w)

	err := c.processMessage(context.Background(), kafkaMessage(t, KafkaCommand{
		Target:  "*",
		Command: MethodDestinationList,
	}))
	assert.NoError(t, err)
	assert.Len(t, w.msgs, 1)
}
