package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bosley/voxnote/audio"
	"github.com/bosley/voxnote/blob"
	"github.com/bosley/voxnote/store"
	"github.com/google/uuid"
)

const DefaultTitle = "New Recording"

var (
	ErrInvalidUpload = errors.New("invalid upload")
	ErrStorageWrite  = errors.New("failed to store audio")
	ErrMetadataWrite = errors.New("failed to save recording")
)

// Job asks the analysis stage to process one stored recording. The JSON
// form is the trigger request body.
type Job struct {
	RecordingID string `json:"recordingId" validate:"required"`
	OwnerID     string `json:"userId" validate:"required"`
	StoragePath string `json:"fileUrl" validate:"required"`

	// RequestedBy is the identity the job runs as. Only set on trusted
	// in-process and queue hand-offs.
	RequestedBy string `json:"requestedBy,omitempty"`
}

// Dispatcher hands a job to the analysis stage. Implementations must not
// wait for the analysis to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type Options struct {
	// NewID defaults to uuid.NewString.
	NewID func() string
}

type Pipeline struct {
	blobs      blob.Store
	store      store.Store
	dispatcher Dispatcher
	newID      func() string
}

func New(blobs blob.Store, st store.Store, dispatcher Dispatcher, opts Options) *Pipeline {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Pipeline{
		blobs:      blobs,
		store:      st,
		dispatcher: dispatcher,
		newID:      opts.NewID,
	}
}

// StoragePath is the owner partitioned object key for a recording.
func StoragePath(ownerID, recordingID, mimeType string) string {
	return fmt.Sprintf("%s/%s.%s", ownerID, recordingID, audio.Extension(mimeType))
}

// Upload stores the artifact, records its metadata as processing and
// dispatches analysis. progress, when set, receives 10, 60 and 100.
func (p *Pipeline) Upload(ctx context.Context, artifact *audio.Artifact, ownerID, title string, progress func(int)) (*store.Recording, error) {
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}

	if artifact == nil || artifact.Size() == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrInvalidUpload)
	}
	if ownerID == "" || strings.ContainsAny(ownerID, `/\`) || strings.Contains(ownerID, "..") {
		return nil, fmt.Errorf("%w: bad owner id %q", ErrInvalidUpload, ownerID)
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}

	report(10)

	recordingID := p.newID()
	path := StoragePath(ownerID, recordingID, artifact.MIMEType())

	if err := p.blobs.Write(ctx, path, artifact.Bytes(), artifact.MIMEType()); err != nil {
		slog.Error("Failed to store recording audio", "error", err, "path", path)
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	report(60)

	rec := &store.Recording{
		ID:       recordingID,
		UserID:   ownerID,
		Title:    title,
		AudioURL: &path,
		Status:   store.StatusProcessing,
	}
	if err := p.store.CreateRecording(ctx, rec); err != nil {
		slog.Error("Failed to save recording metadata, stored audio is orphaned",
			"error", err, "recordingID", recordingID, "path", path)
		return nil, fmt.Errorf("%w: %w", ErrMetadataWrite, err)
	}
	report(100)

	job := Job{
		RecordingID: recordingID,
		OwnerID:     ownerID,
		StoragePath: path,
		RequestedBy: ownerID,
	}
	if err := p.dispatcher.Dispatch(ctx, job); err != nil {
		slog.Error("Failed to dispatch analysis", "error", err, "recordingID", recordingID)
	}

	slog.Info("Recording uploaded", "recordingID", recordingID, "ownerID", ownerID, "path", path, "bytes", artifact.Size())
	return rec, nil
}
