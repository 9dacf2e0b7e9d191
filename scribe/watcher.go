package scribe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bosley/voxnote/audio"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// inboxAudio reports whether name is a finished recording. Producers write
// to a .tmp or .part name and rename when done.
func inboxAudio(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".webm":
		return true
	}
	return false
}

// watchInbox uploads recordings dropped into InboxDir/{ownerID}/ on behalf
// of that owner.
func (s *Scribe) watchInbox(ctx context.Context) error {
	root := s.config.InboxDir
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}
	slog.Info("Started watching inbox directory", "path", root)

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := s.watchOwnerDir(ctx, watcher, entry.Name()); err != nil {
				slog.Error("Failed to watch owner directory", "error", err, "ownerID", entry.Name())
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if err := s.handleInboxEvent(ctx, watcher, event); err != nil {
				slog.Error("Failed to handle inbox event",
					"error", err,
					"event", event)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Inbox watcher error", "error", err)
		}
	}
}

func (s *Scribe) handleInboxEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) error {
	if !event.Has(fsnotify.Create) {
		return nil
	}

	relPath, err := filepath.Rel(s.config.InboxDir, event.Name)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}
	parts := strings.Split(relPath, string(filepath.Separator))

	switch len(parts) {
	case 1:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return s.watchOwnerDir(ctx, watcher, parts[0])
		}
	case 2:
		if _, err := uuid.Parse(parts[0]); err == nil && inboxAudio(parts[1]) {
			return s.ingestInboxFile(ctx, parts[0], event.Name)
		}
	}
	return nil
}

// watchOwnerDir starts watching an owner directory and ingests anything
// already in it.
func (s *Scribe) watchOwnerDir(ctx context.Context, watcher *fsnotify.Watcher, ownerID string) error {
	if _, err := uuid.Parse(ownerID); err != nil {
		slog.Warn("Ignoring inbox directory that is not an owner id", "name", ownerID)
		return nil
	}

	dir := filepath.Join(s.config.InboxDir, ownerID)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch owner directory: %w", err)
	}
	slog.Info("Watching owner inbox", "ownerID", ownerID, "path", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read owner directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && inboxAudio(entry.Name()) {
			if err := s.ingestInboxFile(ctx, ownerID, filepath.Join(dir, entry.Name())); err != nil {
				slog.Error("Failed to ingest inbox file", "error", err, "file", entry.Name())
			}
		}
	}
	return nil
}

// ingestInboxFile uploads one file and removes it. A failed upload leaves
// the file in place.
func (s *Scribe) ingestInboxFile(ctx context.Context, ownerID, path string) error {
	if _, busy := s.inboxBusy.LoadOrStore(path, struct{}{}); busy {
		return nil
	}
	defer s.inboxBusy.Delete(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read inbox file: %w", err)
	}

	name := filepath.Base(path)
	title := strings.TrimSuffix(name, filepath.Ext(name))
	artifact := audio.NewArtifact(data, audio.MIMEFromPath(path), 0)

	rec, err := s.pipeline.Upload(ctx, artifact, ownerID, title, nil)
	if err != nil {
		return fmt.Errorf("failed to upload inbox file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		slog.Error("Failed to remove ingested inbox file", "error", err, "path", path)
	}
	slog.Info("Ingested inbox recording", "recordingID", rec.ID, "ownerID", ownerID, "file", name)
	return nil
}
