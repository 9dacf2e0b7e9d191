package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bosley/voxnote/audio"
	"github.com/bosley/voxnote/auth"
	"github.com/bosley/voxnote/blob"
	"github.com/bosley/voxnote/pipeline"
	"github.com/bosley/voxnote/store"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRetrieval    = errors.New("failed to download audio")
)

// Transcriber is the AI capability that turns audio into a reply following
// the instruction.
type Transcriber interface {
	Transcribe(ctx context.Context, instruction string, data []byte, mimeType string) (string, error)
}

// Notifier is told about every terminal status a job records.
type Notifier interface {
	StatusChanged(ownerID, recordingID string, status store.Status)
}

type Options struct {
	// Timeout bounds the transcription call. Zero means no limit.
	Timeout  time.Duration
	Notifier Notifier
}

type Analyzer struct {
	blobs       blob.Store
	store       store.Store
	transcriber Transcriber
	opts        Options
}

func New(blobs blob.Store, st store.Store, transcriber Transcriber, opts Options) *Analyzer {
	return &Analyzer{
		blobs:       blobs,
		store:       st,
		transcriber: transcriber,
		opts:        opts,
	}
}

// Process runs one analysis job as the identity carried by ctx. It ends with
// the recording completed with a transcription, or marked failed.
func (a *Analyzer) Process(ctx context.Context, job pipeline.Job) (*Result, error) {
	caller, ok := auth.IdentityFrom(ctx)
	if !ok || caller != job.OwnerID {
		return nil, ErrUnauthorized
	}

	rec, err := a.store.GetRecording(ctx, job.RecordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recording: %w", err)
	}
	if rec.UserID != job.OwnerID {
		return nil, ErrUnauthorized
	}
	// Only the recording's own stored audio may be analyzed.
	if rec.AudioURL == nil || *rec.AudioURL != job.StoragePath {
		slog.Warn("Rejected analysis of audio not attached to recording",
			"recordingID", job.RecordingID, "ownerID", job.OwnerID, "path", job.StoragePath)
		return nil, ErrUnauthorized
	}
	if rec.Status == store.StatusCompleted {
		return nil, store.ErrAlreadyCompleted
	}

	data, err := a.blobs.Read(ctx, job.StoragePath)
	if err != nil {
		slog.Error("Failed to download recording audio", "error", err, "recordingID", job.RecordingID, "path", job.StoragePath)
		a.fail(ctx, job)
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	tctx := ctx
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	reply, err := a.transcriber.Transcribe(tctx, Instruction, data, audio.MIMEFromPath(job.StoragePath))
	if err != nil {
		slog.Error("Transcription failed", "error", err, "recordingID", job.RecordingID)
		a.fail(ctx, job)
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	result, parsed := ParseResult(reply)
	if !parsed {
		slog.Warn("Failed to parse structured analysis, storing raw reply", "recordingID", job.RecordingID)
	}
	if strings.TrimSpace(result.RawText) == "" {
		result.RawText = NoTextAvailable
	}

	err = a.store.CompleteAnalysis(ctx, &store.Transcription{
		RecordingID: job.RecordingID,
		UserID:      job.OwnerID,
		RawText:     result.RawText,
		Summary:     result.Summary,
		KeyPoints:   result.KeyPoints,
		ActionItems: result.ActionItems,
	})
	if err != nil {
		slog.Error("Failed to save transcription", "error", err, "recordingID", job.RecordingID)
		if !errors.Is(err, store.ErrAlreadyCompleted) {
			a.fail(ctx, job)
		}
		return nil, fmt.Errorf("failed to save transcription: %w", err)
	}

	slog.Info("Recording analyzed", "recordingID", job.RecordingID, "ownerID", job.OwnerID, "structured", parsed)
	a.notify(job, store.StatusCompleted)
	return &result, nil
}

func (a *Analyzer) fail(ctx context.Context, job pipeline.Job) {
	if err := a.store.MarkFailed(context.WithoutCancel(ctx), job.RecordingID); err != nil {
		slog.Error("Failed to mark recording failed", "error", err, "recordingID", job.RecordingID)
		return
	}
	a.notify(job, store.StatusFailed)
}

func (a *Analyzer) notify(job pipeline.Job, status store.Status) {
	if a.opts.Notifier != nil {
		a.opts.Notifier.StatusChanged(job.OwnerID, job.RecordingID, status)
	}
}
