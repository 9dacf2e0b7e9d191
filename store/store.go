package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyCompleted = errors.New("recording already completed")
	ErrNoAudio          = errors.New("recording has no stored audio")
)

// Store is the metadata store for recordings and their transcriptions.
type Store interface {
	CreateRecording(ctx context.Context, rec *Recording) error
	GetRecording(ctx context.Context, id string) (*Recording, error)
	ListRecordings(ctx context.Context, userID string) ([]Recording, error)
	MarkFailed(ctx context.Context, id string) error
	CompleteAnalysis(ctx context.Context, t *Transcription) error
	GetTranscription(ctx context.Context, recordingID string) (*Transcription, error)
}

type Gorm struct {
	db *gorm.DB
}

// Open connects using a sqlite://path or postgres:// DSN and creates the
// two tables if they are missing.
func Open(dsn string) (*Gorm, error) {
	var dialector gorm.Dialector
	isSQLite := false
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
		isSQLite = true
	default:
		return nil, fmt.Errorf("unsupported database dsn %q", dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

func New(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&Recording{}, &Transcription{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) CreateRecording(ctx context.Context, rec *Recording) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusProcessing
	}
	if err := g.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	return nil
}

func (g *Gorm) GetRecording(ctx context.Context, id string) (*Recording, error) {
	var rec Recording
	err := g.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recording: %w", err)
	}
	return &rec, nil
}

// ListRecordings returns a user's recordings newest first.
func (g *Gorm) ListRecordings(ctx context.Context, userID string) ([]Recording, error) {
	recs := []Recording{}
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return recs, nil
}

// MarkFailed moves a processing recording to failed. Recordings that
// already reached a terminal status are left alone.
func (g *Gorm) MarkFailed(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).
		Model(&Recording{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Update("status", StatusFailed)
	if res.Error != nil {
		return fmt.Errorf("failed to mark recording failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := g.GetRecording(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CompleteAnalysis stores the transcription and marks the recording
// completed in one transaction.
func (g *Gorm) CompleteAnalysis(ctx context.Context, t *Transcription) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Recording
		err := tx.First(&rec, "id = ?", t.RecordingID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load recording: %w", err)
		}
		if rec.Status == StatusCompleted {
			return ErrAlreadyCompleted
		}
		if rec.AudioURL == nil || *rec.AudioURL == "" {
			return ErrNoAudio
		}

		var existing int64
		if err := tx.Model(&Transcription{}).Where("recording_id = ?", rec.ID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check transcriptions: %w", err)
		}
		if existing > 0 {
			return ErrAlreadyCompleted
		}

		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.KeyPoints == nil {
			t.KeyPoints = StringList{}
		}
		if t.ActionItems == nil {
			t.ActionItems = StringList{}
		}
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("failed to insert transcription: %w", err)
		}

		err = tx.Model(&Recording{}).
			Where("id = ?", rec.ID).
			Update("status", StatusCompleted).Error
		if err != nil {
			return fmt.Errorf("failed to mark recording completed: %w", err)
		}
		return nil
	})
}

func (g *Gorm) GetTranscription(ctx context.Context, recordingID string) (*Transcription, error) {
	var t Transcription
	err := g.db.WithContext(ctx).First(&t, "recording_id = ?", recordingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcription: %w", err)
	}
	return &t, nil
}
