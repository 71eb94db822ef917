package kafka

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"patient-access/internal/domain/audit"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Config struct {
	Brokers []string
	Topic   string

	// Partitions is used only when the topic has to be created.
	Partitions        int32
	ReplicationFactor int16
}

// Forwarder publishes committed audit events, one record per event keyed by
// request id so a request's events stay ordered within a partition.
type Forwarder struct {
	producer producer
	topic    string
	client   *kgo.Client
}

func NewForwarder(p producer, topic string) *Forwarder {
	return &Forwarder{producer: p, topic: topic}
}

// Dial connects to the brokers and makes sure the topic exists.
func Dial(ctx context.Context, cfg Config) (*Forwarder, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka: brokers and topic required")
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	if err := cl.Ping(ctx); err != nil {
		cl.Close()
		return nil, fmt.Errorf("kafka: ping: %w", err)
	}
	if err := ensureTopic(ctx, kadm.NewClient(cl), cfg); err != nil {
		cl.Close()
		return nil, err
	}

	f := NewForwarder(cl, cfg.Topic)
	f.client = cl
	return f, nil
}

func ensureTopic(ctx context.Context, adm *kadm.Client, cfg Config) error {
	partitions, replicas := cfg.Partitions, cfg.ReplicationFactor
	if partitions <= 0 {
		partitions = 1
	}
	if replicas <= 0 {
		replicas = 1
	}
	resp, err := adm.CreateTopics(ctx, partitions, replicas, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("kafka: create topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (f *Forwarder) Close() {
	if f.client != nil {
		f.client.Close()
	}
}

var _ audit.Forwarder = (*Forwarder)(nil)

type eventRecord struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Requester  string    `json:"requester"`
	Patient    string    `json:"patient"`
	DataType   string    `json:"data_type"`
	Purpose    string    `json:"purpose,omitempty"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Outcome    string    `json:"outcome,omitempty"`
	At         time.Time `json:"at"`
	ExpiresAt  time.Time `json:"expires_at"`
	PrevHash   string    `json:"prev_hash,omitempty"`
	Hash       string    `json:"hash"`
}

func (f *Forwarder) Forward(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(eventRecord{
			Seq:        e.Seq,
			ID:         e.ID,
			RequestID:  e.RequestID,
			Type:       string(e.Type),
			Actor:      e.Actor,
			Requester:  e.Requester,
			Patient:    e.Patient,
			DataType:   e.DataType,
			Purpose:    e.Purpose,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Outcome:    e.Outcome,
			At:         e.At,
			ExpiresAt:  e.ExpiresAt,
			PrevHash:   hex.EncodeToString(e.PrevHash),
			Hash:       hex.EncodeToString(e.Hash),
		})
		if err != nil {
			return fmt.Errorf("kafka: encode event %s: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: f.topic,
			Key:   []byte(e.RequestID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		})
	}

	if err := f.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce: %w", err)
	}
	return nil
}
