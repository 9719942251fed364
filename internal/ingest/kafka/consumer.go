package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pollstream/internal/domain"
	"pollstream/internal/storage"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Broadcaster receives the refreshed poll state after a vote has been
// durably applied. It must tolerate concurrent calls for different polls.
type Broadcaster interface {
	BroadcastPollUpdate(ctx context.Context, poll domain.Poll)
}

type ConsumerConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	ClientID       string
	Partitions     int
	MaxPollRecords int
	QueueCapacity  int
	FetchMaxWait   time.Duration
}

func (c *ConsumerConfig) withDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 3
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.FetchMaxWait <= 0 {
		c.FetchMaxWait = time.Second
	}
}

func (c ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("consumer brokers required")
	}
	if c.Topic == "" {
		return errors.New("consumer topic required")
	}
	if c.GroupID == "" {
		return errors.New("consumer group id required")
	}
	return nil
}

// Consumer pulls vote events and applies them: validate, persist, broadcast.
// Records are routed to one worker per log partition, so votes for the same
// poll apply strictly in submission order while partitions run concurrently.
//
// Offsets are committed only after a record reaches a terminal outcome.
// A failed apply is logged and dropped, never retried: combined with the
// log's at-least-once delivery this means a redelivered event increments the
// count again and a transient store failure loses a vote. Both edges are
// deliberate and covered by tests.
type Consumer struct {
	cfg    ConsumerConfig
	client *kgo.Client
	store  storage.Store
	hub    Broadcaster
	logger *slog.Logger

	partQ []chan *kgo.Record
	acks  chan *kgo.Record

	pauseMux sync.Mutex
	paused   bool

	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
	pauseFetch   func(...string)
	resumeFetch  func(...string)
}

func NewConsumer(cfg ConsumerConfig, store storage.Store, hub Broadcaster, logger *slog.Logger, opts ...kgo.Opt) (*Consumer, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.FetchMaxWait(cfg.FetchMaxWait),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}

	c := newConsumer(cfg, store, hub, logger)
	c.client = cl
	c.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	c.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	c.pauseFetch = func(topics ...string) { _ = cl.PauseFetchTopics(topics...) }
	c.resumeFetch = func(topics ...string) { cl.ResumeFetchTopics(topics...) }
	return c, nil
}

func newConsumer(cfg ConsumerConfig, store storage.Store, hub Broadcaster, logger *slog.Logger) *Consumer {
	c := &Consumer{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		logger: logger,
		partQ:  make([]chan *kgo.Record, cfg.Partitions),
		acks:   make(chan *kgo.Record, cfg.Partitions*cfg.QueueCapacity),
	}
	for i := range c.partQ {
		c.partQ[i] = make(chan *kgo.Record, cfg.QueueCapacity)
	}
	return c
}

func (c *Consumer) Start(ctx context.Context) error {
	defer c.client.Close()

	var ackWG sync.WaitGroup
	ackWG.Add(1)
	go func() {
		defer ackWG.Done()
		c.handleAcks()
	}()

	// Workers run on a context that survives cancellation: shutdown stops
	// pulling new records, it does not abandon the ones already queued.
	applyCtx := context.WithoutCancel(ctx)
	var workerWG sync.WaitGroup
	for i := range c.partQ {
		workerWG.Add(1)
		go func(q chan *kgo.Record) {
			defer workerWG.Done()
			c.runWorker(applyCtx, q)
		}(c.partQ[i])
	}

	for {
		if ctx.Err() != nil {
			c.shutdown(&workerWG, &ackWG)
			return ctx.Err()
		}
		fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
		if errs := fetches.Errors(); len(errs) > 0 {
			if ctx.Err() != nil {
				continue
			}
			c.shutdown(&workerWG, &ackWG)
			return errs[0].Err
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			q := c.partQ[int(p.Partition)%len(c.partQ)]
			for _, rec := range p.Records {
				for {
					select {
					case q <- rec:
						c.maybeResume()
						goto next
					default:
						c.maybePause()
						time.Sleep(5 * time.Millisecond)
					}
				}
			next:
			}
		})
		c.client.AllowRebalance()
	}
}

// shutdown closes the partition queues, lets the workers finish what they
// have, then closes the ack channel so handleAcks drains every last offset.
// Ordering matters: the ack drain must outlive the workers, or a worker
// blocks forever pushing into a full ack channel and Start never returns.
func (c *Consumer) shutdown(workers, acks *sync.WaitGroup) {
	for _, q := range c.partQ {
		close(q)
	}
	workers.Wait()
	close(c.acks)
	acks.Wait()
}

func (c *Consumer) runWorker(ctx context.Context, q chan *kgo.Record) {
	for rec := range q {
		c.apply(ctx, rec)
		c.acks <- rec
	}
}

// handleAcks marks and commits offsets for records that reached a terminal
// outcome. Every record commits: discarded and dropped events are terminal
// too, otherwise a poison message would wedge its partition. The loop runs
// until the ack channel closes, so offsets for records applied during
// shutdown still commit.
func (c *Consumer) handleAcks() {
	for rec := range c.acks {
		if rec == nil {
			continue
		}
		c.markCommit(rec)
		_ = c.commitMarked(context.Background())
	}
}

func (c *Consumer) apply(ctx context.Context, rec *kgo.Record) {
	sourceRef := fmt.Sprintf("%s/%d/%d", rec.Topic, rec.Partition, rec.Offset)

	var ev domain.VoteEvent
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		c.logger.Warn("discarding undecodable vote event", "source_ref", sourceRef, "error", err)
		return
	}

	poll, err := c.store.GetPoll(ctx, ev.PollID)
	if errors.Is(err, storage.ErrPollNotFound) {
		c.logger.Warn("discarding vote for unknown poll", "poll_id", ev.PollID, "source_ref", sourceRef)
		return
	}
	if err != nil {
		c.logger.Error("dropping vote after poll lookup failure", "poll_id", ev.PollID, "source_ref", sourceRef, "error", err)
		return
	}
	if !poll.HasOption(ev.OptionID) {
		c.logger.Warn("discarding vote for unknown option", "poll_id", ev.PollID, "option_id", ev.OptionID, "source_ref", sourceRef)
		return
	}

	if err := c.store.IncrementVote(ctx, ev); err != nil {
		c.logger.Error("dropping vote after store failure", "poll_id", ev.PollID, "option_id", ev.OptionID, "source_ref", sourceRef, "error", err)
		return
	}

	// Re-read so the broadcast carries a consistent snapshot, not a delta.
	updated, err := c.store.GetPoll(ctx, ev.PollID)
	if err != nil {
		c.logger.Error("vote applied but refresh failed, skipping broadcast", "poll_id", ev.PollID, "source_ref", sourceRef, "error", err)
		return
	}
	c.hub.BroadcastPollUpdate(ctx, updated)
}

func (c *Consumer) maybePause() {
	c.pauseMux.Lock()
	defer c.pauseMux.Unlock()
	if c.paused {
		return
	}
	c.pauseFetch(c.cfg.Topic)
	c.paused = true
}

func (c *Consumer) maybeResume() {
	c.pauseMux.Lock()
	defer c.pauseMux.Unlock()
	if !c.paused {
		return
	}
	c.resumeFetch(c.cfg.Topic)
	c.paused = false
}
