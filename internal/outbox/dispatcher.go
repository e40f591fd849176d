// Package outbox delivers persisted save events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Option configures optional behaviour for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher drains the outbox table and delivers events to Kafka using Schema Registry metadata.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	dlq              *DLQWriter
	pollInterval     time.Duration
	batchSize        int
	logger           *log.Logger
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           log.New(log.Writer(), "[outbox] ", log.LstdFlags|log.Lshortfile),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatch error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	delivered, failures := d.deliver(ctx, messages)
	for _, msg := range delivered {
		deliveredCounter.WithLabelValues(msg.Topic).Inc()
		publishLag.Observe(start.Sub(msg.CreatedAt).Seconds())
	}

	settled := delivered
	if len(failures) > 0 {
		d.logger.Printf("delivery failure for %d of %d events", len(failures), len(messages))
		for _, f := range failures {
			failedCounter.WithLabelValues(f.msg.Topic).Inc()
		}
		if dlqErr := d.moveToDLQ(ctx, failures); dlqErr != nil {
			// Failed rows stay claimed but unpublished so the next poll retries them.
			return errors.Join(dlqErr, d.markPublished(ctx, delivered))
		}
		for _, f := range failures {
			settled = append(settled, f.msg)
		}
	}
	return d.markPublished(ctx, settled)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) (messages []Message, err error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const query = `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, created_at
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload, &msg.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// deliverFailure pairs an undeliverable message with its cause.
type deliverFailure struct {
	msg Message
	err error
}

// deliver publishes messages grouped by topic. A message that cannot be
// encoded fails alone; a producer error fails its whole topic batch.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) (delivered []Message, failures []deliverFailure) {
	type topicBatch struct {
		source  []Message
		records []kafka.Message
	}
	batches := make(map[string]*topicBatch)
	topics := make([]string, 0)

	for _, msg := range messages {
		record, err := d.encode(ctx, msg)
		if err != nil {
			failures = append(failures, deliverFailure{msg: msg, err: err})
			continue
		}
		batch, ok := batches[msg.Topic]
		if !ok {
			batch = &topicBatch{}
			batches[msg.Topic] = batch
			topics = append(topics, msg.Topic)
		}
		batch.source = append(batch.source, msg)
		batch.records = append(batch.records, record)
	}

	for _, topic := range topics {
		batch := batches[topic]
		if err := d.producer.WriteMessages(ctx, topic, batch.records...); err != nil {
			for _, msg := range batch.source {
				failures = append(failures, deliverFailure{msg: msg, err: err})
			}
			continue
		}
		delivered = append(delivered, batch.source...)
	}
	return delivered, failures
}

func (d *Dispatcher) encode(ctx context.Context, msg Message) (kafka.Message, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return kafka.Message{}, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	schemaID, err := d.schemaID(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "aggregate_id", Value: []byte(msg.AggregateID)},
		},
	}, nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	cacheKey := subject + "::" + schema
	if cached, ok := d.schemaIDCache.Load(cacheKey); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, failures []deliverFailure) error {
	for _, f := range failures {
		reason := fmt.Sprintf("%v (topic=%s)", f.err, f.msg.Topic)
		if err := d.dlq.Write(ctx, f.msg, reason); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
	}
	return nil
}

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
