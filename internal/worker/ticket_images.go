// Package worker runs background jobs pulled from the Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/ticket"
	"github.com/eventgate/backend/pkg/queue"
)

// Registrations looks up the ticket a job refers to.
type Registrations interface {
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
}

// ImageUploader stores a rendered ticket image and returns its key.
type ImageUploader interface {
	UploadTicketImage(ctx context.Context, eventID, registrationID string, png []byte) (string, error)
}

// JobSource is the queue as seen by the worker loop.
type JobSource interface {
	Dequeue(ctx context.Context, wait time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// TicketImageProcessor renders ticket QR codes and uploads them to storage.
type TicketImageProcessor struct {
	regs    Registrations
	images  ImageUploader
	jobs    JobSource
	qrSize  int
	wait    time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// NewTicketImageProcessor creates a ticket image processor.
func NewTicketImageProcessor(regs Registrations, images ImageUploader, jobs JobSource, qrSize int, wait time.Duration, logger *zap.Logger) *TicketImageProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if qrSize <= 0 {
		qrSize = ticket.DefaultQRSize
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &TicketImageProcessor{
		regs:    regs,
		images:  images,
		jobs:    jobs,
		qrSize:  qrSize,
		wait:    wait,
		backoff: queue.RetryBackoff,
		logger:  logger,
	}
}

// Process executes one ticket image job. A registration deleted since the
// job was queued is skipped, not retried.
func (p *TicketImageProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTicketImage {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.TicketImagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	reg, err := p.regs.GetRegistration(ctx, payload.RegistrationID)
	if errors.Is(err, apperr.ErrNotFound) {
		p.logger.Info("ticket gone, skipping image", zap.String("registration_id", payload.RegistrationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load registration: %w", err)
	}

	png, err := ticket.RenderPNG(ticket.PayloadFor(reg), p.qrSize)
	if err != nil {
		return err
	}
	key, err := p.images.UploadTicketImage(ctx, reg.EventID, reg.ID, png)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("ticket image uploaded", zap.String("registration_id", reg.ID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *TicketImageProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("ticket image worker stopping")
			return
		}

		job, err := p.jobs.Dequeue(ctx, p.wait)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
				p.sleep(ctx)
			}
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *TicketImageProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
