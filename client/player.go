package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/bosley/voxnote/audio"
	"github.com/gordonklaus/portaudio"
)

// PlayAudioFile plays a WAV recording on the default output device until it
// ends or ctx is done.
func PlayAudioFile(ctx context.Context, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return err
	}

	// Initialize PortAudio
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	p := newPlayback(pcm)
	stream, err := portaudio.OpenDefaultStream(
		0,
		format.Channels,
		float64(format.SampleRate),
		framesPerBuffer,
		p.fill,
	)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	fmt.Printf("Playing %s (%s)\n", filename, format.DurationOf(len(pcm)))
	select {
	case <-p.finished:
	case <-ctx.Done():
	}

	return stream.Stop()
}

// playback feeds interleaved samples to the output callback and signals
// once they are used up.
type playback struct {
	samples  []int16
	pos      int
	finished chan struct{}
	once     sync.Once
}

func newPlayback(pcm []byte) *playback {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return &playback{samples: samples, finished: make(chan struct{})}
}

func (p *playback) fill(out []int16) {
	n := copy(out, p.samples[p.pos:])
	p.pos += n
	// Fill remaining buffer with silence if needed
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if p.pos >= len(p.samples) {
		p.once.Do(func() { close(p.finished) })
	}
}
