package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bosley/voxnote/audio"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

var (
	ErrDeviceUnavailable = errors.New("audio capture device unavailable")
	ErrInvalidTransition = errors.New("invalid recorder state transition")
)

const (
	DefaultChunkInterval = 200 * time.Millisecond
	DefaultTickInterval  = 100 * time.Millisecond
)

// Source is an acquired capture stream. Frames are little-endian int16 PCM
// in the reported Format.
type Source interface {
	Format() audio.Format
	Start(deliver func(frame []byte)) error
	Stop() error
	Close() error
}

// Device hands out capture sources. Acquire may prompt or block.
type Device interface {
	Acquire(ctx context.Context) (Source, error)
}

// FrameSink receives a copy of every frame accepted while recording.
type FrameSink interface {
	WriteFrame(frame []byte)
}

type Options struct {
	ChunkInterval time.Duration
	TickInterval  time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	// OnTick receives the elapsed duration every TickInterval while recording.
	OnTick func(time.Duration)

	// OnStateChange is called after every successful transition.
	OnStateChange func(State)
}

// Recorder drives a single capture session through idle, recording, paused
// and stopped. Transitions are serialized; frames are accepted from the
// device's own goroutine.
type Recorder struct {
	device Device
	opts   Options

	// ops serializes transitions so device Start/Stop calls never interleave.
	ops sync.Mutex

	mu        sync.Mutex
	state     State
	source    Source
	format    audio.Format
	session   uint64
	pending   bytes.Buffer
	chunks    [][]byte
	reference time.Time
	offset    time.Duration
	artifact  *audio.Artifact
	sinks     []FrameSink

	loop *sessionLoop
}

type sessionLoop struct {
	stop chan struct{}
	done chan struct{}
}

func New(device Device, opts Options) *Recorder {
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = DefaultChunkInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		device: device,
		opts:   opts,
		state:  StateIdle,
	}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Duration is the elapsed recording time with paused intervals excluded.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

func (r *Recorder) elapsedLocked() time.Duration {
	if r.state == StateRecording {
		return r.opts.Now().Sub(r.reference)
	}
	return r.offset
}

func (r *Recorder) Subscribe(sink FrameSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

func (r *Recorder) Unsubscribe(sink FrameSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sinks {
		if s == sink {
			r.sinks = append(r.sinks[:i], r.sinks[i+1:]...)
			return
		}
	}
}

// Start acquires the device and begins a new session. Only valid from idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.ops.Lock()
	defer r.ops.Unlock()

	if r.State() != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, r.State())
	}

	src, err := r.device.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	r.mu.Lock()
	r.session++
	session := r.session
	r.source = src
	r.format = src.Format()
	r.pending.Reset()
	r.chunks = nil
	r.artifact = nil
	r.offset = 0
	r.reference = r.opts.Now()
	r.state = StateRecording
	r.mu.Unlock()

	if err := src.Start(r.deliverer(session)); err != nil {
		r.mu.Lock()
		r.source = nil
		r.state = StateIdle
		r.mu.Unlock()
		if cerr := src.Close(); cerr != nil {
			slog.Error("Failed to close capture source", "error", cerr)
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	r.startLoop()
	r.notify(StateRecording)
	return nil
}

// Pause halts capture and freezes the duration. Only valid while recording.
func (r *Recorder) Pause() error {
	r.ops.Lock()
	defer r.ops.Unlock()

	r.mu.Lock()
	if r.state != StateRecording {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, state)
	}
	r.offset = r.opts.Now().Sub(r.reference)
	r.state = StatePaused
	r.flushLocked()
	src := r.source
	r.mu.Unlock()

	r.stopLoop()
	if err := src.Stop(); err != nil {
		slog.Error("Failed to stop capture source", "error", err)
	}

	r.notify(StatePaused)
	return nil
}

// Resume continues a paused session. Only valid while paused.
func (r *Recorder) Resume() error {
	r.ops.Lock()
	defer r.ops.Unlock()

	r.mu.Lock()
	if r.state != StatePaused {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, state)
	}
	src := r.source
	session := r.session
	r.reference = r.opts.Now().Add(-r.offset)
	r.state = StateRecording
	r.mu.Unlock()

	if err := src.Start(r.deliverer(session)); err != nil {
		r.mu.Lock()
		r.state = StatePaused
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	r.startLoop()
	r.notify(StateRecording)
	return nil
}

// Stop ends the session, releases the device and assembles the artifact
// from every chunk captured so far.
func (r *Recorder) Stop() (*audio.Artifact, error) {
	r.ops.Lock()
	defer r.ops.Unlock()

	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: stop from %s", ErrInvalidTransition, state)
	}
	wasRecording := r.state == StateRecording
	if wasRecording {
		r.offset = r.opts.Now().Sub(r.reference)
	}
	r.state = StateStopped
	r.flushLocked()
	pcm := bytes.Join(r.chunks, nil)
	r.chunks = nil
	format := r.format
	src := r.source
	r.source = nil
	r.mu.Unlock()

	if wasRecording {
		r.stopLoop()
	}
	if err := r.releaseSource(src, wasRecording); err != nil {
		slog.Error("Failed to release capture source", "error", err)
	}

	encoded, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}
	artifact := audio.NewArtifact(encoded, audio.MIMEWAV, format.DurationOf(len(pcm)))

	r.mu.Lock()
	r.artifact = artifact
	r.mu.Unlock()

	r.notify(StateStopped)
	return artifact, nil
}

// TakeArtifact hands the stopped session's artifact to the caller and
// returns the recorder to idle. The recorder keeps no reference to it.
func (r *Recorder) TakeArtifact() (*audio.Artifact, error) {
	r.ops.Lock()
	defer r.ops.Unlock()

	r.mu.Lock()
	if r.state != StateStopped || r.artifact == nil {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: take artifact from %s", ErrInvalidTransition, state)
	}
	artifact := r.artifact
	r.artifact = nil
	r.offset = 0
	r.state = StateIdle
	r.mu.Unlock()

	r.notify(StateIdle)
	return artifact, nil
}

// Reset discards everything and returns to idle from any state.
func (r *Recorder) Reset() {
	if err := r.release(); err != nil {
		slog.Error("Failed to release capture source", "error", err)
	}
}

// Close releases the device on abnormal termination. It is safe to call
// in any state and more than once.
func (r *Recorder) Close() error {
	return r.release()
}

func (r *Recorder) release() error {
	r.ops.Lock()
	defer r.ops.Unlock()

	r.mu.Lock()
	prev := r.state
	wasRecording := prev == StateRecording
	src := r.source
	r.source = nil
	r.state = StateIdle
	r.artifact = nil
	r.chunks = nil
	r.pending.Reset()
	r.offset = 0
	r.reference = time.Time{}
	r.mu.Unlock()

	if wasRecording {
		r.stopLoop()
	}
	err := r.releaseSource(src, wasRecording)

	if prev != StateIdle {
		r.notify(StateIdle)
	}
	return err
}

func (r *Recorder) releaseSource(src Source, running bool) error {
	if src == nil {
		return nil
	}
	if running {
		if err := src.Stop(); err != nil {
			slog.Error("Failed to stop capture source", "error", err)
		}
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("failed to close capture source: %w", err)
	}
	return nil
}

// deliverer returns the frame callback for one session. Frames arriving
// after the session paused, stopped or was replaced are dropped.
func (r *Recorder) deliverer(session uint64) func([]byte) {
	return func(frame []byte) {
		r.mu.Lock()
		if r.state != StateRecording || r.session != session {
			r.mu.Unlock()
			return
		}
		r.pending.Write(frame)
		sinks := append([]FrameSink(nil), r.sinks...)
		r.mu.Unlock()

		for _, sink := range sinks {
			sink.WriteFrame(bytes.Clone(frame))
		}
	}
}

func (r *Recorder) flushLocked() {
	if r.pending.Len() == 0 {
		return
	}
	r.chunks = append(r.chunks, bytes.Clone(r.pending.Bytes()))
	r.pending.Reset()
}

func (r *Recorder) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		r.flushLocked()
	}
}

func (r *Recorder) startLoop() {
	loop := &sessionLoop{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.loop = loop
	go r.run(loop)
}

// stopLoop must be called with ops held and without mu.
func (r *Recorder) stopLoop() {
	if r.loop == nil {
		return
	}
	close(r.loop.stop)
	<-r.loop.done
	r.loop = nil
}

func (r *Recorder) run(loop *sessionLoop) {
	defer close(loop.done)

	chunkTicker := time.NewTicker(r.opts.ChunkInterval)
	defer chunkTicker.Stop()
	tickTicker := time.NewTicker(r.opts.TickInterval)
	defer tickTicker.Stop()

	for {
		select {
		case <-loop.stop:
			return
		case <-chunkTicker.C:
			r.flush()
		case <-tickTicker.C:
			if r.opts.OnTick != nil {
				r.opts.OnTick(r.Duration())
			}
		}
	}
}

func (r *Recorder) notify(state State) {
	if r.opts.OnStateChange != nil {
		r.opts.OnStateChange(state)
	}
}
