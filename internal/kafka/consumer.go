package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/tracing"
)

// Handler returns nil only when the message is done and its offset may be
// committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryBase = 200 * time.Millisecond
	defaultRetryMax  = 10 * time.Second
)

// Consumer delivers at least once and in offset order per partition. Every
// partition is pinned to one worker, and a failing message is retried in
// place with backoff, so its offset is never committed past. Handlers must
// tolerate redelivery after a restart.
type Consumer struct {
	r         messageReader
	workers   int
	retryBase time.Duration
	retryMax  time.Duration
	log       *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, retryBase: defaultRetryBase, retryMax: defaultRetryMax, log: log}
}

// Start blocks until ctx is canceled or the reader fails.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.process(ctx, m, h) {
					return
				}
			}
		}(lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[lane(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process runs h until it succeeds and commits the offset. It reports false
// when ctx ended first; the message stays uncommitted and is redelivered.
func (c *Consumer) process(ctx context.Context, m kafka.Message, h Handler) bool {
	mctx := tracing.ExtractKafkaHeaders(ctx, m.Headers)
	err := retry(ctx, c.retryBase, c.retryMax, func() error { return h(mctx, m) }, func(attempt int, err error) {
		c.log.Warn("handler failed, retrying",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	if err != nil {
		return false
	}
	err = retry(ctx, c.retryBase, c.retryMax, func() error { return c.r.CommitMessages(ctx, m) }, func(attempt int, err error) {
		c.log.Warn("commit failed, retrying",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	return err == nil
}

func lane(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// retry calls fn until it returns nil, sleeping with capped exponential
// backoff between attempts. It returns ctx.Err() once ctx is done.
func retry(ctx context.Context, base, ceiling time.Duration, fn func() error, onErr func(attempt int, err error)) error {
	wait := base
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if onErr != nil {
			onErr(attempt, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
		if wait > ceiling {
			wait = ceiling
		}
	}
}
