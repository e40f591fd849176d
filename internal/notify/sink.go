// Package notify delivers user-visible save notifications. Delivery is
// fire-and-forget and never part of the durability guarantee.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kind distinguishes success and error toasts.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Sink receives notifications keyed by activity title.
type Sink interface {
	NotifySuccess(title string)
	NotifyError(title string)
}

// Event is the wire shape published for UI consumers.
type Event struct {
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NewEvent builds the toast text shown for kind.
func NewEvent(kind Kind, title string, at time.Time) Event {
	msg := title + " saved automatically"
	if kind == KindError {
		msg = "Failed to save " + title
	}
	return Event{Kind: kind, Title: title, Message: msg, At: at.UTC()}
}

// LogSink writes notifications to a logger.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) NotifySuccess(title string) { s.write(NewEvent(KindSuccess, title, time.Now())) }
func (s LogSink) NotifyError(title string)   { s.write(NewEvent(KindError, title, time.Now())) }

func (s LogSink) write(ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notification %s: %s", ev.Kind, ev.Message)
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
}

// KafkaSink publishes notifications as JSON records to a topic.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
	logger  *log.Logger
}

// NewKafkaSink constructs a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	})
}

func newKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{
		writer:  w,
		timeout: 5 * time.Second,
		logger:  log.New(log.Writer(), "[notify] ", log.LstdFlags|log.Lshortfile),
	}
}

func (s *KafkaSink) NotifySuccess(title string) { s.publish(NewEvent(KindSuccess, title, time.Now())) }
func (s *KafkaSink) NotifyError(title string)   { s.publish(NewEvent(KindError, title, time.Now())) }

func (s *KafkaSink) publish(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Printf("encode notification: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Title), Value: body, Time: ev.At}); err != nil {
		s.logger.Printf("publish notification (kind=%s): %v", ev.Kind, err)
	}
}

// Close flushes and closes the underlying writer when it supports it.
func (s *KafkaSink) Close() error {
	if closer, ok := s.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Multi fans notifications out to several sinks.
type Multi []Sink

func (m Multi) NotifySuccess(title string) {
	for _, s := range m {
		s.NotifySuccess(title)
	}
}

func (m Multi) NotifyError(title string) {
	for _, s := range m {
		s.NotifyError(title)
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) NotifySuccess(string) {}
func (Discard) NotifyError(string)   {}
