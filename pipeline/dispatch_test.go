package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bosley/voxnote/auth"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJob = Job{
	RecordingID: "rec-1",
	OwnerID:     "owner-1",
	StoragePath: "owner-1/rec-1.webm",
	RequestedBy: "owner-1",
}

func TestRedisQueueDispatch(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(db, "voxnote:analysis")

	payload, err := json.Marshal(testJob)
	require.NoError(t, err)
	mock.ExpectLPush("voxnote:analysis", string(payload)).SetVal(1)

	require.NoError(t, q.Dispatch(context.Background(), testJob))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueueDispatchError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(db, "voxnote:analysis")

	payload, err := json.Marshal(testJob)
	require.NoError(t, err)
	mock.ExpectLPush("voxnote:analysis", string(payload)).SetErr(assert.AnError)

	assert.ErrorIs(t, q.Dispatch(context.Background(), testJob), assert.AnError)
}

func TestRedisQueueRequeue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(db, "voxnote:analysis")

	payload, err := json.Marshal(testJob)
	require.NoError(t, err)
	mock.ExpectRPush("voxnote:analysis", string(payload)).SetVal(1)
	mock.ExpectRPush("voxnote:analysis", string(payload)).SetErr(assert.AnError)

	require.NoError(t, q.Requeue(context.Background(), testJob))
	assert.ErrorIs(t, q.Requeue(context.Background(), testJob), assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueueConsume(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(db, "voxnote:analysis")
	q.pollTimeout = time.Second

	payload, err := json.Marshal(testJob)
	require.NoError(t, err)
	mock.ExpectBRPop(time.Second, "voxnote:analysis").RedisNil()
	mock.ExpectBRPop(time.Second, "voxnote:analysis").SetVal([]string{"voxnote:analysis", "{not json"})
	mock.ExpectBRPop(time.Second, "voxnote:analysis").SetVal([]string{"voxnote:analysis", string(payload)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []Job
	err = q.Consume(ctx, func(job Job) {
		got = append(got, job)
		cancel()
	})
	require.NoError(t, err)
	assert.Equal(t, []Job{testJob}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerClientPostsJobWithToken(t *testing.T) {
	verifier := auth.NewVerifier("secret")

	type received struct {
		caller string
		body   Job
	}
	requests := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := verifier.Verify(auth.TokenFromRequest(r))
		var body Job
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests <- received{caller: caller, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	done := make(chan error, 1)
	c := NewTriggerClient(srv.URL, verifier, srv.Client())
	c.done = func(err error) { done <- err }

	require.NoError(t, c.Dispatch(context.Background(), testJob))

	select {
	case req := <-requests:
		assert.Equal(t, "owner-1", req.caller)
		assert.Equal(t, "rec-1", req.body.RecordingID)
		assert.Equal(t, "owner-1", req.body.OwnerID)
		assert.Equal(t, "owner-1/rec-1.webm", req.body.StoragePath)
		assert.Empty(t, req.body.RequestedBy)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger request not received")
	}
	assert.NoError(t, <-done)
}

func TestTriggerClientReportsRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Failed to download audio"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	done := make(chan error, 1)
	c := NewTriggerClient(srv.URL, auth.NewVerifier("secret"), srv.Client())
	c.done = func(err error) { done <- err }

	require.NoError(t, c.Dispatch(context.Background(), testJob))
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Failed to download audio")
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not finish")
	}
}
