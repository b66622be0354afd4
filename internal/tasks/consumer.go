package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/varfish-case-importer/internal/domain"
)

// Handler executes one task for a primary key. A returned error leaves the
// task unacknowledged so that it is redelivered after the visibility timeout.
type Handler func(ctx context.Context, pk int64) error

// StaleJobs fails background jobs whose worker went away.
type StaleJobs interface {
	FailStaleBackgroundJobs(ctx context.Context, startedBefore time.Time) ([]int64, error)
}

// Consumer pulls tasks off the queue and dispatches them to handlers
type Consumer struct {
	queue    *Queue
	handlers map[string]Handler
	cfg      domain.QueueConfig
	stale    StaleJobs
	log      *logrus.Logger
	now      func() time.Time
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithStaleJobs lets the reclaimer fail jobs that are still running after
// the configured stale job timeout.
func WithStaleJobs(jobs StaleJobs) ConsumerOption {
	return func(c *Consumer) {
		c.stale = jobs
	}
}

// NewConsumer creates a consumer for the given handlers
func NewConsumer(queue *Queue, handlers map[string]Handler, cfg domain.QueueConfig, logger *logrus.Logger, opts ...ConsumerOption) *Consumer {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	c := &Consumer{
		queue:    queue,
		handlers: handlers,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts the configured number of consumer loops and a reclaimer and
// blocks until ctx is done or a loop fails.
func (c *Consumer) Run(ctx context.Context) error {
	if c.cfg.ReclaimInterval > 0 {
		stop, err := c.startReclaimer(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Consumers; i++ {
		worker := i
		g.Go(func() error {
			return c.loop(gctx, worker)
		})
	}
	c.log.WithFields(logrus.Fields{
		"queue":     c.queue.name,
		"consumers": c.cfg.Consumers,
	}).Info("Task consumers started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) loop(ctx context.Context, worker int) error {
	log := c.log.WithField("consumer", worker)
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := c.queue.Dequeue(ctx, c.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Error("Failed to dequeue task")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}
		c.Process(ctx, msg)
	}
}

// Process runs the handler of msg and acknowledges the task unless the
// handler failed.
func (c *Consumer) Process(ctx context.Context, msg *Message) {
	log := c.log.WithFields(logrus.Fields{
		"task":    msg.Task,
		"pk":      msg.PK,
		"task_id": msg.ID,
	})

	handler, ok := c.handlers[msg.Task]
	if !ok {
		log.Error("Unknown task, dropping")
		if err := c.queue.Ack(ctx, msg); err != nil {
			log.WithError(err).Error("Failed to acknowledge task")
		}
		return
	}

	start := time.Now()
	if err := c.call(ctx, handler, msg.PK); err != nil {
		log.WithError(err).Error("Task failed, leaving it for redelivery")
		return
	}
	if err := c.queue.Ack(context.WithoutCancel(ctx), msg); err != nil {
		log.WithError(err).Error("Failed to acknowledge task")
		return
	}
	log.WithField("duration", time.Since(start)).Info("Task done")
}

func (c *Consumer) call(ctx context.Context, handler Handler, pk int64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			c.log.WithField("stack", string(debug.Stack())).Error("Task handler panicked")
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return handler(ctx, pk)
}

func (c *Consumer) startReclaimer(ctx context.Context) (func(), error) {
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(c.cfg.ReclaimInterval).Do(c.reclaim, ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling reclaimer: %w", err)
	}
	s.StartAsync()
	return s.Stop, nil
}

// reclaim requeues tasks past the visibility timeout and fails jobs that are
// still running after the stale job timeout. The job harness skips requeued
// tasks of running jobs.
func (c *Consumer) reclaim(ctx context.Context) {
	if c.cfg.VisibilityTimeout > 0 {
		if _, err := c.queue.Reclaim(ctx, c.cfg.VisibilityTimeout); err != nil {
			c.log.WithError(err).Warn("Reclaiming stale tasks failed")
		}
	}
	if c.stale == nil || c.cfg.StaleJobTimeout <= 0 {
		return
	}
	ids, err := c.stale.FailStaleBackgroundJobs(ctx, c.now().Add(-c.cfg.StaleJobTimeout))
	if err != nil {
		c.log.WithError(err).Warn("Failing stale jobs failed")
		return
	}
	if len(ids) > 0 {
		c.log.WithFields(logrus.Fields{
			"job_ids": ids,
			"timeout": c.cfg.StaleJobTimeout,
		}).Warn("Marked stale background jobs as failed")
	}
}
