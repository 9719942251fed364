package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pollstream/internal/domain"

	"github.com/twmb/franz-go/pkg/kgo"
)

type ProducerConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
}

func (c ProducerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("producer brokers required")
	}
	if c.Topic == "" {
		return errors.New("producer topic required")
	}
	return nil
}

// Producer appends accepted vote submissions to the votes topic. It never
// touches the store: option validity is checked asynchronously by the
// consumer, which keeps submission latency bounded by the log append alone.
type Producer struct {
	cfg    ProducerConfig
	client *kgo.Client

	produce func(context.Context, *kgo.Record) error
}

func NewProducer(cfg ProducerConfig, opts ...kgo.Opt) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}

	p := &Producer{cfg: cfg, client: cl}
	p.produce = func(ctx context.Context, rec *kgo.Record) error {
		return cl.ProduceSync(ctx, rec).FirstErr()
	}
	return p, nil
}

// SubmitVote builds a VoteEvent with a server-assigned timestamp and appends
// it keyed by poll identity, so every vote for one poll lands on the same
// partition. Append failures are returned to the caller as-is: retry policy
// belongs to the caller, not the producer.
func (p *Producer) SubmitVote(ctx context.Context, pollID, optionID, voterID string) error {
	rec, err := newVoteRecord(p.cfg.Topic, domain.NewVoteEvent(pollID, optionID, voterID, time.Now()))
	if err != nil {
		return err
	}
	if err := p.produce(ctx, rec); err != nil {
		return fmt.Errorf("append vote for poll %s: %w", pollID, err)
	}
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}

func newVoteRecord(topic string, ev domain.VoteEvent) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode vote event: %w", err)
	}
	return &kgo.Record{Topic: topic, Key: []byte(ev.PollID), Value: value}, nil
}
