// Package events publishes engine state changes for external consumers
// (notification, audit, dashboards). Delivery is fire-and-forget and
// at-most-once: events flow through a bounded in-memory queue and are
// dropped, with a counter, when the queue is full or the broker is down.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
)

// Event types emitted by the engine
const (
	EventFilingPrepared    = "filing.prepared"
	EventFilingValidated   = "filing.validated"
	EventFilingFiled       = "filing.filed"
	EventFilingRejected    = "filing.rejected"
	EventFilingAmended     = "filing.amended"
	EventWorkflowInitiated = "workflow.initiated"
	EventStepStarted       = "workflow.step_started"
	EventStepCompleted     = "workflow.step_completed"
	EventStepFailed        = "workflow.step_failed"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
	EventReminderSent      = "reminder.sent"
)

// Publisher is the fire-and-forget event contract. Publish never blocks the
// caller and never reports delivery failure.
type Publisher interface {
	Publish(eventType string, payload map[string]interface{})
}

// Envelope is the wire format written to the event topic.
type Envelope struct {
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// kafkaWriter is the subset of kafka.Writer the publisher uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher buffers events in a bounded queue and flushes them to Kafka
// from a single background writer goroutine.
type KafkaPublisher struct {
	logger   *zap.Logger
	writer   kafkaWriter
	queue    chan Envelope
	timeout  time.Duration
	dropped  atomic.Int64
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewKafkaPublisher creates a publisher writing to the configured topic.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, cfg, logger)
}

func newKafkaPublisher(writer kafkaWriter, cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &KafkaPublisher{
		logger:   logger,
		writer:   writer,
		queue:    make(chan Envelope, queueSize),
		timeout:  cfg.WriteTimeout,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background writer goroutine.
func (p *KafkaPublisher) Start() {
	go p.writeLoop()
}

// Stop drains nothing: queued events not yet written are dropped, which is
// within the at-most-once contract. Safe to call more than once.
func (p *KafkaPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		<-p.done
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("Failed to close kafka writer", zap.Error(err))
		}
	})
}

// Publish enqueues an event. When the queue is full the event is dropped and
// counted; callers are never blocked or failed.
func (p *KafkaPublisher) Publish(eventType string, payload map[string]interface{}) {
	envelope := Envelope{
		EventType: eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	select {
	case p.queue <- envelope:
	default:
		dropped := p.dropped.Add(1)
		if dropped%100 == 1 {
			p.logger.Warn("Event queue full, dropping events",
				zap.String("event_type", eventType),
				zap.Int64("total_dropped", dropped))
		}
	}
}

// Dropped returns the number of events dropped since startup.
func (p *KafkaPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *KafkaPublisher) writeLoop() {
	defer close(p.done)
	for {
		select {
		case <-p.stopChan:
			return
		case envelope := <-p.queue:
			p.write(envelope)
		}
	}
}

func (p *KafkaPublisher) write(envelope Envelope) {
	value, err := json.Marshal(envelope)
	if err != nil {
		p.logger.Error("Failed to marshal event",
			zap.String("event_type", envelope.EventType),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(envelope.EventType),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		// Broker unavailability drops the event; at-most-once, no retry.
		p.dropped.Add(1)
		p.logger.Warn("Failed to write event, dropping",
			zap.String("event_type", envelope.EventType),
			zap.Error(err))
	}
}

// NopPublisher discards all events. Used when Kafka is disabled and in tests.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, map[string]interface{}) {}
