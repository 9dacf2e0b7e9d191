package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/youpy/go-wav"
)

// EncodeWAV wraps little-endian int16 PCM in a RIFF/WAVE container.
// A trailing partial frame is dropped.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	frameSize := format.FrameSize()
	frames := len(pcm) / frameSize
	samples := make([]wav.Sample, frames)
	for i := range samples {
		for c := 0; c < format.Channels; c++ {
			off := i*frameSize + c*2
			samples[i].Values[c] = int(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
	}

	var buf bytes.Buffer
	writer := wav.NewWriter(&buf, uint32(frames), uint16(format.Channels), uint32(format.SampleRate), BitsPerSample)
	if err := writer.WriteSamples(samples); err != nil {
		return nil, fmt.Errorf("failed to write wav samples: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV reads a 16-bit PCM WAV file back into raw frames.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	reader := wav.NewReader(bytes.NewReader(data))
	wf, err := reader.Format()
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to read wav format: %w", err)
	}
	if wf.BitsPerSample != BitsPerSample {
		return nil, Format{}, fmt.Errorf("unsupported bits per sample %d", wf.BitsPerSample)
	}

	format := Format{SampleRate: int(wf.SampleRate), Channels: int(wf.NumChannels)}
	if err := format.Validate(); err != nil {
		return nil, Format{}, err
	}

	var pcm bytes.Buffer
	for {
		samples, err := reader.ReadSamples()
		for _, s := range samples {
			for c := 0; c < format.Channels; c++ {
				_ = binary.Write(&pcm, binary.LittleEndian, int16(s.Values[c]))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Format{}, fmt.Errorf("failed to read wav samples: %w", err)
		}
	}
	return pcm.Bytes(), format, nil
}
