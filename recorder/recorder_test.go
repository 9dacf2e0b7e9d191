package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bosley/voxnote/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	mu       sync.Mutex
	deliver  func([]byte)
	running  bool
	closed   bool
	startErr error
}

func (s *fakeSource) Format() audio.Format {
	return audio.Format{SampleRate: 8000, Channels: 1}
}

func (s *fakeSource) Start(deliver func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.deliver = deliver
	s.running = true
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// emit calls the last registered callback even after Stop, the way a real
// device can still flush a buffer it had in flight.
func (s *fakeSource) emit(frame []byte) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil {
		deliver(frame)
	}
}

type fakeDevice struct {
	mu       sync.Mutex
	err      error
	startErr error
	sources  []*fakeSource
	acquired int
}

func (d *fakeDevice) Acquire(ctx context.Context) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	src := &fakeSource{startErr: d.startErr}
	d.sources = append(d.sources, src)
	d.acquired++
	return src, nil
}

func (d *fakeDevice) last() *fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources[len(d.sources)-1]
}

func (d *fakeDevice) openHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	open := 0
	for _, s := range d.sources {
		s.mu.Lock()
		if !s.closed {
			open++
		}
		s.mu.Unlock()
	}
	return open
}

func newTestRecorder(dev Device, clock *fakeClock) *Recorder {
	return New(dev, Options{
		ChunkInterval: time.Hour,
		TickInterval:  time.Hour,
		Now:           clock.Now,
	})
}

func (r *Recorder) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func TestStartFailsWhenDeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{err: errors.New("permission denied")}
	r := newTestRecorder(dev, newFakeClock())

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, time.Duration(0), r.Duration())
}

func TestStartFailsWhenSourceWillNotStart(t *testing.T) {
	dev := &fakeDevice{startErr: errors.New("stream busy")}
	r := newTestRecorder(dev, newFakeClock())

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, 0, dev.openHandles())
}

func TestDurationExcludesPausedIntervals(t *testing.T) {
	clock := newFakeClock()
	dev := &fakeDevice{}
	r := newTestRecorder(dev, clock)

	require.NoError(t, r.Start(context.Background()))
	clock.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, r.Duration())

	require.NoError(t, r.Pause())
	clock.Advance(10 * time.Second)
	assert.Equal(t, 3*time.Second, r.Duration())

	require.NoError(t, r.Resume())
	clock.Advance(2500 * time.Millisecond)
	assert.Equal(t, 5500*time.Millisecond, r.Duration())

	require.NoError(t, r.Pause())
	clock.Advance(time.Minute)
	require.NoError(t, r.Resume())
	clock.Advance(500 * time.Millisecond)

	_, err := r.Stop()
	require.NoError(t, err)
	clock.Advance(time.Hour)
	assert.Equal(t, 6*time.Second, r.Duration())
	assert.Equal(t, StateStopped, r.State())
}

func TestInvalidTransitionsChangeNothing(t *testing.T) {
	clock := newFakeClock()
	dev := &fakeDevice{}
	r := newTestRecorder(dev, clock)

	assert.ErrorIs(t, r.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, r.Resume(), ErrInvalidTransition)
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = r.TakeArtifact()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Start(context.Background()))
	clock.Advance(time.Second)
	assert.ErrorIs(t, r.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, r.Start(context.Background()), ErrInvalidTransition)
	assert.Equal(t, StateRecording, r.State())
	assert.Equal(t, 1, dev.acquired)

	require.NoError(t, r.Pause())
	assert.ErrorIs(t, r.Pause(), ErrInvalidTransition)
	assert.Equal(t, StatePaused, r.State())
	assert.Equal(t, time.Second, r.Duration())

	_, err = r.Stop()
	require.NoError(t, err)
	assert.ErrorIs(t, r.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, r.Resume(), ErrInvalidTransition)
	assert.Equal(t, StateStopped, r.State())
}

func TestStopKeepsOnlyFramesCapturedWhileRecording(t *testing.T) {
	dev := &fakeDevice{}
	r := newTestRecorder(dev, newFakeClock())

	require.NoError(t, r.Start(context.Background()))
	src := dev.last()
	src.emit([]byte{1, 0, 2, 0})

	require.NoError(t, r.Pause())
	src.emit([]byte{9, 9, 9, 9})

	require.NoError(t, r.Resume())
	src.emit([]byte{3, 0})

	artifact, err := r.Stop()
	require.NoError(t, err)
	src.emit([]byte{8, 8})

	assert.Equal(t, audio.MIMEWAV, artifact.MIMEType())
	pcm, format, err := audio.DecodeWAV(artifact.Bytes())
	require.NoError(t, err)
	assert.Equal(t, src.Format(), format)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, pcm)
	assert.Equal(t, format.DurationOf(6), artifact.Duration())
}

func TestStopThenResetLeavesNoDeviceHandle(t *testing.T) {
	clock := newFakeClock()
	dev := &fakeDevice{}
	r := newTestRecorder(dev, clock)

	require.NoError(t, r.Start(context.Background()))
	clock.Advance(2 * time.Second)
	_, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 0, dev.openHandles())

	r.Reset()
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, time.Duration(0), r.Duration())
	_, err = r.TakeArtifact()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResetAndCloseReleaseDeviceFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, r *Recorder)
		end   func(r *Recorder)
	}{
		{
			name:  "reset while recording",
			setup: func(t *testing.T, r *Recorder) {},
			end:   func(r *Recorder) { r.Reset() },
		},
		{
			name:  "reset while paused",
			setup: func(t *testing.T, r *Recorder) { require.NoError(t, r.Pause()) },
			end:   func(r *Recorder) { r.Reset() },
		},
		{
			name:  "close while recording",
			setup: func(t *testing.T, r *Recorder) {},
			end:   func(r *Recorder) { _ = r.Close() },
		},
		{
			name:  "close while paused",
			setup: func(t *testing.T, r *Recorder) { require.NoError(t, r.Pause()) },
			end:   func(r *Recorder) { _ = r.Close() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			r := newTestRecorder(dev, newFakeClock())
			require.NoError(t, r.Start(context.Background()))
			tt.setup(t, r)

			tt.end(r)

			assert.Equal(t, StateIdle, r.State())
			assert.Equal(t, 0, dev.openHandles())
			assert.NoError(t, r.Close())
		})
	}
}

func TestTakeArtifactHandsOffAndReturnsToIdle(t *testing.T) {
	dev := &fakeDevice{}
	r := newTestRecorder(dev, newFakeClock())

	require.NoError(t, r.Start(context.Background()))
	dev.last().emit([]byte{4, 0})
	stopped, err := r.Stop()
	require.NoError(t, err)

	taken, err := r.TakeArtifact()
	require.NoError(t, err)
	assert.Same(t, stopped, taken)
	assert.Equal(t, StateIdle, r.State())

	_, err = r.TakeArtifact()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 2, dev.acquired)
}

func TestRepeatedSessionsReleaseEverySource(t *testing.T) {
	dev := &fakeDevice{}
	r := newTestRecorder(dev, newFakeClock())

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Start(context.Background()))
		require.NoError(t, r.Pause())
		require.NoError(t, r.Resume())
		_, err := r.Stop()
		require.NoError(t, err)
		r.Reset()
	}

	assert.Equal(t, 5, dev.acquired)
	assert.Equal(t, 0, dev.openHandles())
}

func TestFramesFromReplacedSessionAreDropped(t *testing.T) {
	dev := &fakeDevice{}
	r := newTestRecorder(dev, newFakeClock())

	require.NoError(t, r.Start(context.Background()))
	old := dev.last()
	r.Reset()

	require.NoError(t, r.Start(context.Background()))
	old.emit([]byte{7, 7})
	dev.last().emit([]byte{1, 0})

	artifact, err := r.Stop()
	require.NoError(t, err)
	pcm, _, err := audio.DecodeWAV(artifact.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0}, pcm)
}

func TestChunkTimerFlushesPendingFrames(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, Options{ChunkInterval: 5 * time.Millisecond, TickInterval: time.Hour})

	require.NoError(t, r.Start(context.Background()))
	defer r.Close()
	dev.last().emit([]byte{1, 0, 2, 0})

	assert.Eventually(t, func() bool { return r.chunkCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTickPublishesElapsedDuration(t *testing.T) {
	clock := newFakeClock()
	dev := &fakeDevice{}
	ticks := make(chan time.Duration, 16)
	r := New(dev, Options{
		ChunkInterval: time.Hour,
		TickInterval:  5 * time.Millisecond,
		Now:           clock.Now,
		OnTick: func(d time.Duration) {
			select {
			case ticks <- d:
			default:
			}
		},
	})

	require.NoError(t, r.Start(context.Background()))
	defer r.Close()
	clock.Advance(1500 * time.Millisecond)

	timeout := time.After(time.Second)
	for {
		select {
		case d := <-ticks:
			if d == 1500*time.Millisecond {
				return
			}
		case <-timeout:
			t.Fatal("no tick published with the advanced duration")
		}
	}
}

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *recordingSink) WriteFrame(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

func TestSubscribersSeeLiveFramesOnly(t *testing.T) {
	var states []State
	dev := &fakeDevice{}
	r := New(dev, Options{
		ChunkInterval: time.Hour,
		TickInterval:  time.Hour,
		OnStateChange: func(s State) { states = append(states, s) },
	})
	sink := &recordingSink{}
	r.Subscribe(sink)

	require.NoError(t, r.Start(context.Background()))
	dev.last().emit([]byte{1, 0})
	require.NoError(t, r.Pause())
	dev.last().emit([]byte{2, 0})
	r.Unsubscribe(sink)
	require.NoError(t, r.Resume())
	dev.last().emit([]byte{3, 0})
	_, err := r.Stop()
	require.NoError(t, err)

	assert.Equal(t, [][]byte{{1, 0}}, sink.frames)
	assert.Equal(t, []State{StateRecording, StatePaused, StateRecording, StateStopped}, states)
}
