package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "owner/rec.webm", want: "owner/rec.webm"},
		{key: "owner//rec.wav", want: "owner/rec.wav"},
		{key: "", wantErr: true},
		{key: "/etc/passwd", wantErr: true},
		{key: "../escape", wantErr: true},
		{key: "owner/../../escape", wantErr: true},
		{key: `owner\rec.webm`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.key)
		if tt.wantErr {
			assert.Error(t, err, tt.key)
			continue
		}
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got)
	}
}

func TestFSWriteRead(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "owner/rec.webm", []byte("audio"), "audio/webm"))

	data, err := store.Read(ctx, "owner/rec.webm")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)
}

func TestFSDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFS(root)
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "owner/rec.webm", []byte("first"), "audio/webm"))
	err = store.Write(ctx, "owner/rec.webm", []byte("second"), "audio/webm")
	assert.ErrorIs(t, err, ErrExists)

	data, err := os.ReadFile(filepath.Join(root, "owner", "rec.webm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestFSReadMissing(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "owner/missing.webm")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.StringValue(in.Key)]; !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = data
	f.types[aws.StringValue(in.Key)] = aws.StringValue(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3WriteRead(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3WithClient(fake, "recordings")

	require.NoError(t, store.Write(ctx, "owner/rec.wav", []byte("pcm"), "audio/wav"))
	assert.Equal(t, "audio/wav", fake.types["owner/rec.wav"])

	data, err := store.Read(ctx, "owner/rec.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("pcm"), data)
}

func TestS3DoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3WithClient(fake, "recordings")

	require.NoError(t, store.Write(ctx, "owner/rec.wav", []byte("first"), "audio/wav"))
	assert.ErrorIs(t, store.Write(ctx, "owner/rec.wav", []byte("second"), "audio/wav"), ErrExists)
	assert.Equal(t, []byte("first"), fake.objects["owner/rec.wav"])
}

func TestS3ReadMissing(t *testing.T) {
	store := NewS3WithClient(newFakeS3(), "recordings")

	_, err := store.Read(context.Background(), "owner/none.wav")
	assert.ErrorIs(t, err, ErrNotFound)
}
