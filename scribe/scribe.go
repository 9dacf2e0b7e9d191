package scribe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bosley/voxnote/analysis"
	"github.com/bosley/voxnote/auth"
	"github.com/bosley/voxnote/blob"
	"github.com/bosley/voxnote/pipeline"
	"github.com/bosley/voxnote/store"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Configuration for the Scribe service
type Config struct {
	// HTTP server address
	HTTPAddr string

	// Certificate files for TLS. Plain HTTP when empty.
	CertFile string
	KeyFile  string

	// Directory watched for dropped recordings, disabled when empty
	InboxDir string

	// Number of analysis workers and the size of their queue
	Workers   int
	QueueSize int

	// Upper bound on a single transcription call
	AnalysisTimeout time.Duration

	Blobs       blob.Store
	Store       store.Store
	Transcriber analysis.Transcriber
	Verifier    *auth.Verifier

	// Dispatcher receives upload hand-offs. Defaults to the in-process
	// queue. A Dispatcher that is also a Consumer feeds the worker pool.
	Dispatcher pipeline.Dispatcher
}

// Consumer is a job source that runs until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handle func(pipeline.Job)) error
}

// Requeuer takes back a consumed job the worker pool could not accept.
type Requeuer interface {
	Requeue(ctx context.Context, job pipeline.Job) error
}

// Scribe manages the recording API and the analysis workers
type Scribe struct {
	config Config

	analyzer *analysis.Analyzer
	pipeline *pipeline.Pipeline
	validate *validator.Validate

	// Processing queue
	queue       *Queue
	workers     sync.WaitGroup
	workersOnce sync.Once

	// Status push
	subscribers *subscriberList
	upgrader    websocket.Upgrader

	// Inbox files currently being ingested
	inboxBusy sync.Map

	server *http.Server
}

// New creates a new Scribe instance
func New(cfg Config) (*Scribe, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Blobs == nil || cfg.Store == nil || cfg.Transcriber == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("scribe requires blob store, metadata store, transcriber and verifier")
	}

	var tlsConfig *tls.Config
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	s := &Scribe{
		config:      cfg,
		validate:    validator.New(),
		queue:       NewQueue(cfg.QueueSize),
		subscribers: newSubscriberList(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // identity is checked from the bearer token
			},
		},
	}

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = s.queue
	}
	s.analyzer = analysis.New(cfg.Blobs, cfg.Store, cfg.Transcriber, analysis.Options{
		Timeout:  cfg.AnalysisTimeout,
		Notifier: s,
	})
	s.pipeline = pipeline.New(cfg.Blobs, cfg.Store, dispatcher, pipeline.Options{})

	s.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start runs the HTTP server, the worker pool, the optional queue consumer
// and the inbox watcher until ctx is done or one of them fails.
func (s *Scribe) Start(ctx context.Context) error {
	s.startWorkers()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serveHTTP(gctx)
	})

	if consumer, ok := s.config.Dispatcher.(Consumer); ok {
		g.Go(func() error {
			return consumer.Consume(gctx, func(job pipeline.Job) {
				s.acceptConsumed(gctx, consumer, job)
			})
		})
	}

	if s.config.InboxDir != "" {
		g.Go(func() error {
			return s.watchInbox(gctx)
		})
	}

	return g.Wait()
}

// acceptConsumed hands a consumed job to the workers. A job that cannot be
// queued goes back to its source, or is marked failed when that is not
// possible, so it never stays processing.
func (s *Scribe) acceptConsumed(ctx context.Context, source Consumer, job pipeline.Job) {
	err := s.queue.Put(ctx, job)
	if err == nil {
		return
	}
	slog.Warn("Failed to queue consumed job", "error", err, "recordingID", job.RecordingID)

	bg := context.WithoutCancel(ctx)
	if requeuer, ok := source.(Requeuer); ok {
		rerr := requeuer.Requeue(bg, job)
		if rerr == nil {
			slog.Info("Returned job to queue", "recordingID", job.RecordingID)
			return
		}
		slog.Error("Failed to return job to queue", "error", rerr, "recordingID", job.RecordingID)
	}

	if ferr := s.config.Store.MarkFailed(bg, job.RecordingID); ferr != nil {
		slog.Error("Failed to mark dropped job failed", "error", ferr, "recordingID", job.RecordingID)
		return
	}
	s.StatusChanged(job.OwnerID, job.RecordingID, store.StatusFailed)
}

// Stop gracefully shuts down the Scribe service. Queued jobs are drained
// before it returns.
func (s *Scribe) Stop(ctx context.Context) error {
	// Stop accepting new uploads first so nothing lands in a closed queue
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	s.subscribers.CloseAll()

	s.queue.Close()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}

func (s *Scribe) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", s.config.HTTPAddr, "tls", s.server.TLSConfig != nil)
		var err error
		if s.server.TLSConfig != nil {
			err = s.server.ListenAndServeTLS("", "")
		} else {
			err = s.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
