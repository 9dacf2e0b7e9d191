package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bosley/voxnote/audio"
	"github.com/bosley/voxnote/recorder"
	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// PortAudioDevice captures mono 16-bit audio from a PortAudio input.
type PortAudioDevice struct {
	// DeviceID selects an input from ListAudioDevices. Zero uses the
	// system default.
	DeviceID int
}

// Acquire initializes PortAudio and opens the input stream. The stream is
// not started until the recorder starts it.
func (d *PortAudioDevice) Acquire(ctx context.Context) (recorder.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := d.inputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	format := audio.DefaultFormat()
	src := &portAudioSource{format: format}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: format.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, src.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	src.stream = stream

	slog.Info("Using audio device",
		"deviceID", d.DeviceID,
		"deviceName", device.Name,
		"sampleRate", format.SampleRate,
		"inputChannels", format.Channels)
	return src, nil
}

func (d *PortAudioDevice) inputDevice() (*portaudio.DeviceInfo, error) {
	if d.DeviceID <= 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get audio devices: %w", err)
	}
	if d.DeviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID %d", d.DeviceID)
	}
	device := devices[d.DeviceID]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) is not an input device", d.DeviceID, device.Name)
	}
	return device, nil
}

type portAudioSource struct {
	format audio.Format
	stream *portaudio.Stream

	mu      sync.Mutex
	deliver func([]byte)
	closed  bool
}

func (s *portAudioSource) Format() audio.Format {
	return s.format
}

func (s *portAudioSource) Start(deliver func([]byte)) error {
	s.mu.Lock()
	s.deliver = deliver
	s.mu.Unlock()

	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	return nil
}

func (s *portAudioSource) Stop() error {
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	return nil
}

func (s *portAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.deliver = nil
	s.mu.Unlock()

	err := s.stream.Close()
	if terr := portaudio.Terminate(); terr != nil {
		slog.Error("Failed to terminate PortAudio", "error", terr)
	}
	if err != nil {
		return fmt.Errorf("failed to close audio stream: %w", err)
	}
	return nil
}

// process runs on the PortAudio callback thread.
func (s *portAudioSource) process(in []int16) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver == nil {
		return
	}
	deliver(pcmBytes(in))
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// InputDevice describes a capture device. ID is the value PortAudioDevice
// expects.
type InputDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// ListAudioDevices returns the input devices PortAudio can see.
func ListAudioDevices() ([]InputDevice, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	// Filter to only input devices
	inputDevices := make([]InputDevice, 0)
	for i, device := range devices {
		if device.MaxInputChannels > 0 {
			inputDevices = append(inputDevices, InputDevice{
				ID:                i,
				Name:              device.Name,
				MaxInputChannels:  device.MaxInputChannels,
				DefaultSampleRate: device.DefaultSampleRate,
			})
		}
	}

	return inputDevices, nil
}
