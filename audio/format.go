package audio

import (
	"fmt"
	"time"
)

const (
	DefaultSampleRate = 44100 // Rate at which audio is captured
	DefaultChannels   = 1     // Mono capture
	BitsPerSample     = 16    // Frames carry little-endian int16 samples
)

// Format describes the raw PCM frames produced by a capture source.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the capture format used by the PortAudio device.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	return nil
}

// FrameSize is the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.Channels * BitsPerSample / 8
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// DurationOf reports how much audio n bytes of PCM in this format hold.
func (f Format) DurationOf(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}
