// Package jobs provides the enqueue-only dispatcher for asynchronous
// work and the worker-side handlers that process it.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/filedepot/filedepot/internal/metrics"
)

// Task types and queue names.
const (
	TypeThumbnail = "thumbnail:generate"
	TypeWelcome   = "email:welcome"

	QueueThumbnails = "thumbnails"
	QueueEmails     = "emails"
)

// ThumbnailPayload describes a thumbnail rendering job.
type ThumbnailPayload struct {
	UserID string `json:"userId"`
	FileID string `json:"fileId"`
	Name   string `json:"name"`
}

// WelcomePayload describes a welcome email job.
type WelcomePayload struct {
	UserID string `json:"userId"`
}

// Dispatcher enqueues job descriptors onto named queues. It is one-way:
// no acknowledgement is awaited and no local retry happens here.
// Reliability of processing belongs to the worker.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher creates a dispatcher backed by the Redis instance at addr.
func NewDispatcher(redisAddr string) *Dispatcher {
	return &Dispatcher{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
	}
}

// EnqueueThumbnail enqueues a thumbnail rendering job for an image.
func (d *Dispatcher) EnqueueThumbnail(ctx context.Context, ownerID, fileID string) error {
	payload, err := json.Marshal(ThumbnailPayload{
		UserID: ownerID,
		FileID: fileID,
		Name:   fmt.Sprintf("Image thumbnail [%s-%s]", ownerID, fileID),
	})
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(TypeThumbnail, payload), asynq.Queue(QueueThumbnails))
	if err != nil {
		metrics.RecordJobEnqueued("thumbnail", "error")
		return fmt.Errorf("enqueue thumbnail job: %w", err)
	}
	metrics.RecordJobEnqueued("thumbnail", "ok")
	return nil
}

// EnqueueWelcome enqueues a welcome email job for a new user.
func (d *Dispatcher) EnqueueWelcome(ctx context.Context, userID string) error {
	payload, err := json.Marshal(WelcomePayload{UserID: userID})
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(TypeWelcome, payload), asynq.Queue(QueueEmails))
	if err != nil {
		metrics.RecordJobEnqueued("welcome", "error")
		return fmt.Errorf("enqueue welcome job: %w", err)
	}
	metrics.RecordJobEnqueued("welcome", "ok")
	return nil
}

// Close releases the underlying client.
func (d *Dispatcher) Close() error {
	return d.client.Close()
}
