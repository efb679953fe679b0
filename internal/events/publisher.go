package events

import (
	"context"
	"encoding/json"
	"time"

	"fleetsim/internal/common"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventType classifies simulation lifecycle events.
type EventType string

const (
	EventNodeRegistered      EventType = "NODE_REGISTERED"
	EventRegistrationFailed  EventType = "NODE_REGISTRATION_FAILED"
	EventContainerAdmitted   EventType = "CONTAINER_ADMITTED"
	EventContainerCompleted  EventType = "CONTAINER_COMPLETED"
	EventApplicationFinished EventType = "APPLICATION_FINISHED"
	EventNodeShutdown        EventType = "NODE_SHUTDOWN"
)

// Event is one simulation lifecycle record. Fleet-scale load tests consume
// these out-of-band to correlate scheduler behavior with node activity.
type Event struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"run_id,omitempty"`
	NodeID    common.NodeID `json:"node_id"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Publisher delivers simulation events to an external sink.
type Publisher interface {
	Publish(event Event)
	Close() error
}

// NopPublisher discards all events. It is the default when no sink is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
func (NopPublisher) Close() error  { return nil }

// KafkaPublisher writes events to a Kafka topic, JSON-encoded, keyed by
// node id so per-node ordering is preserved across partitions.
type KafkaPublisher struct {
	writer *kafka.Writer
	runID  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic, runID string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		runID:  runID,
		logger: common.ComponentLogger("event-publisher"),
	}
}

// Publish sends one event. Delivery is asynchronous and best-effort; a
// failed write never disturbs the simulation itself.
func (p *KafkaPublisher) Publish(event Event) {
	event.RunID = p.runID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.NodeID.String()),
		Value: value,
	}); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
