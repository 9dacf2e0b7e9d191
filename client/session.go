package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bosley/voxnote/audio"
	"github.com/bosley/voxnote/recorder"
	"github.com/bosley/voxnote/store"
	"github.com/bosley/voxnote/visualizer"
)

// ErrQuit is returned when the user leaves without uploading.
var ErrQuit = errors.New("session ended without upload")

// ArtifactUploader is satisfied by *Uploader.
type ArtifactUploader interface {
	Upload(ctx context.Context, artifact *audio.Artifact, title string, progress func(int)) (*store.Recording, error)
}

type SessionConfig struct {
	Device   recorder.Device
	Uploader ArtifactUploader
	Title    string

	// Commands are read line by line from In; status goes to Out.
	In  io.Reader
	Out io.Writer

	// Columns used by the level meter
	BarWidth int
}

const help = "Commands: [p] pause/resume  [s] stop and upload  [d] discard and restart  [q] quit"

// RunSession records until the user stops or quits. It returns the created
// recording after a successful upload.
func RunSession(ctx context.Context, cfg SessionConfig) (*store.Recording, error) {
	if cfg.Device == nil || cfg.Uploader == nil {
		return nil, fmt.Errorf("session requires a device and an uploader")
	}
	if cfg.BarWidth <= 0 {
		cfg.BarWidth = 32
	}

	m := &meter{out: cfg.Out, width: cfg.BarWidth}
	viz := visualizer.New(visualizer.Options{Renderer: m})
	rec := recorder.New(cfg.Device, recorder.Options{
		OnTick: m.setElapsed,
		OnStateChange: func(state recorder.State) {
			viz.Track(state)
			m.setState(state)
		},
	})
	rec.Subscribe(viz)
	defer func() {
		if err := rec.Close(); err != nil {
			slog.Error("Failed to release recorder", "error", err)
		}
	}()

	vctx, stopViz := context.WithCancel(ctx)
	vizDone := make(chan struct{})
	go func() {
		defer close(vizDone)
		viz.Run(vctx)
	}()
	defer func() {
		stopViz()
		<-vizDone
	}()

	if err := rec.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}
	m.println(help)

	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(cfg.In)
		for scanner.Scan() {
			select {
			case commands <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case cmd, ok := <-commands:
			if !ok {
				return nil, ErrQuit
			}
			switch strings.ToLower(cmd) {
			case "p":
				if rec.State() == recorder.StatePaused {
					if err := rec.Resume(); err != nil {
						m.println("Failed to resume: " + err.Error())
					}
				} else if err := rec.Pause(); err != nil {
					m.println("Failed to pause: " + err.Error())
				}

			case "s":
				return stopAndUpload(ctx, rec, cfg, m)

			case "d":
				rec.Reset()
				m.println("Recording discarded")
				if err := rec.Start(ctx); err != nil {
					return nil, fmt.Errorf("failed to restart recording: %w", err)
				}

			case "q":
				return nil, ErrQuit

			case "":
			default:
				m.println(help)
			}
		}
	}
}

func stopAndUpload(ctx context.Context, rec *recorder.Recorder, cfg SessionConfig, m *meter) (*store.Recording, error) {
	if _, err := rec.Stop(); err != nil {
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}
	artifact, err := rec.TakeArtifact()
	if err != nil {
		return nil, err
	}
	m.println(fmt.Sprintf("Recorded %s, uploading %d bytes", artifact.Duration().Round(time.Second), artifact.Size()))

	created, err := cfg.Uploader.Upload(ctx, artifact, cfg.Title, func(pct int) {
		m.progress(pct)
	})
	if err != nil {
		return nil, err
	}
	m.println(fmt.Sprintf("Uploaded %q as %s, analysis is running", created.Title, created.ID))
	return created, nil
}

// meter draws elapsed time and level bars on one terminal line.
type meter struct {
	out   io.Writer
	width int

	mu      sync.Mutex
	elapsed time.Duration
}

func (m *meter) setElapsed(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elapsed = d
}

func (m *meter) setState(state recorder.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == recorder.StatePaused {
		fmt.Fprintf(m.out, "\r%s paused", formatElapsed(m.elapsed))
	}
}

func (m *meter) Render(bins []uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.out, "\r%s %s", formatElapsed(m.elapsed), visualizer.Bars(bins, m.width))
}

func (m *meter) progress(pct int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.out, "\rUploading %3d%%", pct)
}

func (m *meter) println(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.out, "\r%s\n", line)
}

func formatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
