package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Recording is the metadata row for one uploaded capture.
type Recording struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID          string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Title           string    `gorm:"not null" json:"title"`
	AudioURL        *string   `json:"audio_url"`
	Status          Status    `gorm:"type:varchar(16);not null;default:processing" json:"status"`
	DurationSeconds *int      `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Recording) TableName() string { return "recordings" }

type Transcription struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RecordingID string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"recording_id"`
	UserID      string     `gorm:"type:varchar(64);not null;index" json:"user_id"`
	RawText     string     `gorm:"type:text;not null" json:"raw_text"`
	Summary     *string    `gorm:"type:text" json:"summary"`
	KeyPoints   StringList `gorm:"type:text;not null" json:"key_points"`
	ActionItems StringList `gorm:"type:text;not null" json:"action_items"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (Transcription) TableName() string { return "transcriptions" }

// StringList is stored as a JSON array. A nil list is stored as [].
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *StringList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}

	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// MarshalJSON keeps empty lists as [] rather than null.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}
