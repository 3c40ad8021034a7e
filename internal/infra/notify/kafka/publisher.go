// Package kafka publishes applicant notifications to a Kafka topic, keyed by
// project so that a project's notifications stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"rua/pkg/domain"
)

// Config holds broker settings.
type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// producer is the subset of *kgo.Client used by the publisher.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher implements the core notifier on top of a franz-go client.
type Publisher struct {
	client producer
	topic  string
}

// New connects a franz-go client to the configured brokers.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rua"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ClientID(clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Publisher{client: client, topic: cfg.Topic}, nil
}

func newWithProducer(p producer, topic string) *Publisher {
	return &Publisher{client: p, topic: topic}
}

// Notify produces n synchronously as a JSON record.
func (p *Publisher) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(n.ProjectID, 10)),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte(n.Event)},
			{Key: "status", Value: []byte(n.Status)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification for project %d: %w", n.ProjectID, err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *Publisher) Close() { p.client.Close() }
