package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Gorm {
	t.Helper()
	st, err := Open("sqlite://file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func ptr[T any](v T) *T { return &v }

func newRecording(t *testing.T, st *Gorm, userID string) *Recording {
	t.Helper()
	rec := &Recording{
		UserID:   userID,
		Title:    "New Recording",
		AudioURL: ptr(userID + "/" + uuid.NewString() + ".webm"),
	}
	require.NoError(t, st.CreateRecording(context.Background(), rec))
	return rec
}

func TestCreateAndGetRecording(t *testing.T) {
	st := newTestStore(t)
	rec := newRecording(t, st, "user-1")

	got, err := st.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, "user-1", got.UserID)
	assert.Nil(t, got.DurationSeconds)
	assert.Equal(t, *rec.AudioURL, *got.AudioURL)

	_, err = st.GetRecording(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRecordingsNewestFirstPerUser(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "second", "third"} {
		rec := &Recording{
			UserID:    "user-1",
			Title:     title,
			AudioURL:  ptr("user-1/" + title + ".webm"),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, st.CreateRecording(ctx, rec))
	}
	newRecording(t, st, "user-2")

	recs, err := st.ListRecordings(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "third", recs[0].Title)
	assert.Equal(t, "first", recs[2].Title)

	recs, err = st.ListRecordings(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCompleteAnalysis(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	rec := newRecording(t, st, "user-1")

	err := st.CompleteAnalysis(ctx, &Transcription{
		RecordingID: rec.ID,
		UserID:      "user-1",
		RawText:     "hello there",
		Summary:     ptr("a greeting"),
		KeyPoints:   StringList{"greeting"},
	})
	require.NoError(t, err)

	got, err := st.GetRecording(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	tr, err := st.GetTranscription(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", tr.RawText)
	assert.Equal(t, "a greeting", *tr.Summary)
	assert.Equal(t, StringList{"greeting"}, tr.KeyPoints)
	assert.Equal(t, StringList{}, tr.ActionItems)
}

func TestCompleteAnalysisOnlyOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	rec := newRecording(t, st, "user-1")

	require.NoError(t, st.CompleteAnalysis(ctx, &Transcription{RecordingID: rec.ID, UserID: "user-1", RawText: "one"}))
	err := st.CompleteAnalysis(ctx, &Transcription{RecordingID: rec.ID, UserID: "user-1", RawText: "two"})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	tr, err := st.GetTranscription(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", tr.RawText)
}

func TestCompleteAnalysisRequiresAudio(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	rec := &Recording{UserID: "user-1", Title: "no audio"}
	require.NoError(t, st.CreateRecording(ctx, rec))

	err := st.CompleteAnalysis(ctx, &Transcription{RecordingID: rec.ID, UserID: "user-1", RawText: "x"})
	assert.ErrorIs(t, err, ErrNoAudio)

	_, err = st.GetTranscription(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.CompleteAnalysis(ctx, &Transcription{RecordingID: uuid.NewString(), UserID: "user-1", RawText: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkFailedLeavesCompletedAlone(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	failing := newRecording(t, st, "user-1")
	require.NoError(t, st.MarkFailed(ctx, failing.ID))
	got, err := st.GetRecording(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	done := newRecording(t, st, "user-1")
	require.NoError(t, st.CompleteAnalysis(ctx, &Transcription{RecordingID: done.ID, UserID: "user-1", RawText: "ok"}))
	require.NoError(t, st.MarkFailed(ctx, done.ID))
	got, err = st.GetRecording(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	assert.ErrorIs(t, st.MarkFailed(ctx, uuid.NewString()), ErrNotFound)
}

func TestStringListScan(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan(`["a","b"]`))
	assert.Equal(t, StringList{"a", "b"}, l)

	require.NoError(t, l.Scan([]byte(`null`)))
	assert.Equal(t, StringList{}, l)

	assert.Error(t, l.Scan(42))

	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestOpenRejectsUnknownDSN(t *testing.T) {
	_, err := Open("mysql://localhost/db")
	assert.Error(t, err)
}
