package visualizer

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/bosley/voxnote/recorder"
)

const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100
	DefaultMaxDecibels = -30
	DefaultFrameRate   = 30
)

// Renderer draws one frame of frequency bins.
type Renderer interface {
	Render(bins []uint8)
}

type Options struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
	FrameRate   int
	Renderer    Renderer
}

// Stats counts analyser lifetimes. After the session ends the two are equal.
type Stats struct {
	Acquired int
	Released int
}

// Visualizer shows live frequency bars while the recorder is recording.
// It reads frames and state only and never feeds anything back.
type Visualizer struct {
	opts Options

	mu       sync.Mutex
	samples  []float64
	analyser *analyser
	stats    Stats
}

func New(opts Options) *Visualizer {
	if opts.FFTSize <= 0 {
		opts.FFTSize = DefaultFFTSize
	}
	if opts.Smoothing == 0 {
		opts.Smoothing = DefaultSmoothing
	}
	if opts.MinDecibels == 0 {
		opts.MinDecibels = DefaultMinDecibels
	}
	if opts.MaxDecibels == 0 {
		opts.MaxDecibels = DefaultMaxDecibels
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	return &Visualizer{opts: opts}
}

// Track follows recorder state changes. The analyser exists only while
// recording.
func (v *Visualizer) Track(state recorder.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if state == recorder.StateRecording {
		if v.analyser == nil {
			v.analyser = newAnalyser(v.opts.FFTSize, v.opts.Smoothing, v.opts.MinDecibels, v.opts.MaxDecibels)
			v.stats.Acquired++
		}
		return
	}

	if v.analyser != nil {
		v.analyser = nil
		v.samples = nil
		v.stats.Released++
	}
}

// WriteFrame keeps the latest FFTSize samples of the first channel.
func (v *Visualizer) WriteFrame(frame []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.analyser == nil {
		return
	}
	for i := 0; i+1 < len(frame); i += 2 {
		s := int16(binary.LittleEndian.Uint16(frame[i:]))
		v.samples = append(v.samples, float64(s)/math.MaxInt16)
	}
	if extra := len(v.samples) - v.opts.FFTSize; extra > 0 {
		v.samples = append(v.samples[:0], v.samples[extra:]...)
	}
}

// Sample returns the current bins, or false when not recording.
func (v *Visualizer) Sample() ([]uint8, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.analyser == nil {
		return nil, false
	}
	return v.analyser.byteFrequencyData(v.samples), true
}

func (v *Visualizer) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// Run samples at the configured frame rate until ctx is done.
func (v *Visualizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(v.opts.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			bins, ok := v.Sample()
			if ok && v.opts.Renderer != nil {
				v.opts.Renderer.Render(bins)
			}
		}
	}
}
