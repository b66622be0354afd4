// Package tasks delivers background job invocations from the API to worker
// processes. Tasks travel through a Redis list; a task that is taken off the
// queue sits in a processing list until it is acknowledged, and tasks whose
// worker died are put back on the queue by the reclaimer.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Message is one task invocation.
type Message struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	PK         int64     `json:"pk"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	raw string
}

// Queue is an at-least-once task queue on Redis lists
type Queue struct {
	client     *redis.Client
	name       string
	processing string
	claims     string
	log        *logrus.Logger
	now        func() time.Time
}

// NewQueue creates a queue stored under the key name
func NewQueue(client *redis.Client, name string, logger *logrus.Logger) *Queue {
	return &Queue{
		client:     client,
		name:       name,
		processing: name + ":processing",
		claims:     name + ":claims",
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue adds an invocation of task for the primary key pk.
func (q *Queue) Enqueue(ctx context.Context, task string, pk int64) error {
	msg := Message{ID: uuid.NewString(), Task: task, PK: pk, EnqueuedAt: q.now()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		q.log.WithError(err).WithFields(logrus.Fields{"task": task, "pk": pk}).Error("Failed to enqueue task")
		return fmt.Errorf("enqueueing task %s: %w", task, err)
	}
	q.log.WithFields(logrus.Fields{
		"task":    task,
		"pk":      pk,
		"task_id": msg.ID,
	}).Debug("Task enqueued")
	return nil
}

// Dequeue waits up to timeout for a task and moves it to the processing
// list. It returns nil without error if no task arrived in time.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Message, error) {
	raw, err := q.client.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeueing task: %w", err)
	}
	if err := q.client.HSet(ctx, q.claims, raw, q.now().Unix()).Err(); err != nil {
		return nil, fmt.Errorf("recording task claim: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.log.WithError(err).WithField("message", raw).Error("Dropping undecodable task")
		_ = q.remove(ctx, raw)
		return nil, nil
	}
	msg.raw = raw
	return &msg, nil
}

// Ack removes a finished task from the processing list.
func (q *Queue) Ack(ctx context.Context, msg *Message) error {
	if err := q.remove(ctx, msg.raw); err != nil {
		return fmt.Errorf("acknowledging task %s: %w", msg.ID, err)
	}
	return nil
}

func (q *Queue) remove(ctx context.Context, raw string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.HDel(ctx, q.claims, raw)
		return nil
	})
	return err
}

// Reclaim puts tasks back on the queue that have been processing for longer
// than visibility. It returns the number of requeued tasks.
func (q *Queue) Reclaim(ctx context.Context, visibility time.Duration) (int, error) {
	pending, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("listing processing tasks: %w", err)
	}
	cutoff := q.now().Add(-visibility).Unix()

	n := 0
	for _, raw := range pending {
		claimed, err := q.client.HGet(ctx, q.claims, raw).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return n, fmt.Errorf("reading task claim: %w", err)
		}
		// A task without claim was moved but not yet stamped by its consumer.
		if errors.Is(err, redis.Nil) {
			continue
		}
		at, err := strconv.ParseInt(claimed, 10, 64)
		if err == nil && at > cutoff {
			continue
		}

		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.HDel(ctx, q.claims, raw)
			pipe.RPush(ctx, q.name, raw)
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("requeueing task: %w", err)
		}
		n++
	}
	if n > 0 {
		q.log.WithField("count", n).Warn("Requeued stale tasks")
	}
	return n, nil
}

// Len returns the number of waiting and processing tasks.
func (q *Queue) Len(ctx context.Context) (waiting, processing int64, err error) {
	waiting, err = q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.client.LLen(ctx, q.processing).Result()
	return waiting, processing, err
}
