package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
)

// thumbnailWidths are the variant sizes rendered for every image.
var thumbnailWidths = []int{500, 250, 100}

// WorkerMetadata is the slice of the document store the worker consumes.
type WorkerMetadata interface {
	FileByIDAndOwner(ctx context.Context, id, owner primitive.ObjectID) (*metadata.File, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*metadata.User, error)
}

// WorkerContent reads original blobs and writes derived variants.
type WorkerContent interface {
	ReadBlob(localPath string) ([]byte, error)
	WriteVariant(localPath, variant string, data []byte) error
}

// Worker processes queued jobs: thumbnail rendering and welcome emails.
type Worker struct {
	meta    WorkerMetadata
	content WorkerContent
	srv     *asynq.Server
}

// NewWorker creates a worker consuming from the Redis instance at addr.
func NewWorker(redisAddr string, concurrency int, meta WorkerMetadata, content WorkerContent) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueThumbnails: 6,
				QueueEmails:     3,
			},
		},
	)
	return &Worker{meta: meta, content: content, srv: srv}
}

// Run starts processing and blocks until Shutdown.
func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeThumbnail, w.HandleThumbnail)
	mux.HandleFunc(TypeWelcome, w.HandleWelcome)
	return w.srv.Run(mux)
}

// Shutdown stops the worker gracefully.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// HandleThumbnail renders the fixed set of width variants next to the
// original blob.
func (w *Worker) HandleThumbnail(ctx context.Context, t *asynq.Task) error {
	var p ThumbnailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode thumbnail payload: %w", err)
	}
	if p.FileID == "" {
		return fmt.Errorf("missing fileId")
	}
	if p.UserID == "" {
		return fmt.Errorf("missing userId")
	}

	file, err := w.meta.FileByIDAndOwner(ctx,
		metadata.ObjectIDOrNil(p.FileID),
		metadata.ObjectIDOrNil(p.UserID))
	if err != nil {
		return err
	}
	if file == nil {
		metrics.RecordJobProcessed("thumbnail", "error")
		return fmt.Errorf("file not found: %s", p.FileID)
	}

	data, err := w.content.ReadBlob(file.LocalPath)
	if err != nil {
		metrics.RecordJobProcessed("thumbnail", "error")
		return err
	}

	for _, width := range thumbnailWidths {
		thumb, err := RenderThumbnail(data, width, file.Name)
		if err != nil {
			metrics.RecordJobProcessed("thumbnail", "error")
			return fmt.Errorf("render %dpx thumbnail for %s: %w", width, p.FileID, err)
		}
		if err := w.content.WriteVariant(file.LocalPath, strconv.Itoa(width), thumb); err != nil {
			metrics.RecordJobProcessed("thumbnail", "error")
			return err
		}
	}

	metrics.RecordJobProcessed("thumbnail", "ok")
	logging.Info("thumbnails rendered",
		zap.String("file_id", p.FileID),
		zap.String("job", p.Name))
	return nil
}

// HandleWelcome handles the welcome email job. Actual delivery is not
// wired; the job is logged against the stored user.
func (w *Worker) HandleWelcome(ctx context.Context, t *asynq.Task) error {
	var p WelcomePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode welcome payload: %w", err)
	}
	if p.UserID == "" {
		return fmt.Errorf("missing userId")
	}

	user, err := w.meta.UserByID(ctx, metadata.ObjectIDOrNil(p.UserID))
	if err != nil {
		return err
	}
	if user == nil {
		metrics.RecordJobProcessed("welcome", "error")
		return fmt.Errorf("user not found: %s", p.UserID)
	}

	metrics.RecordJobProcessed("welcome", "ok")
	logging.Info("welcome email", zap.String("email", user.Email))
	return nil
}

// RenderThumbnail decodes an image, resizes it to the given width
// preserving aspect ratio, and re-encodes it. The output format follows
// the file name's extension, defaulting to JPEG.
func RenderThumbnail(data []byte, width int, name string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	resized := imaging.Resize(img, width, 0, imaging.Lanczos)

	format, err := imaging.FormatFromExtension(filepath.Ext(name))
	if err != nil {
		format = imaging.JPEG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
