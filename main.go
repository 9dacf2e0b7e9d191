package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosley/voxnote/analysis"
	"github.com/bosley/voxnote/auth"
	"github.com/bosley/voxnote/blob"
	"github.com/bosley/voxnote/client"
	"github.com/bosley/voxnote/config"
	"github.com/bosley/voxnote/pipeline"
	"github.com/bosley/voxnote/scribe"
	"github.com/bosley/voxnote/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	serve := flag.Bool("serve", false, "Run the recording service")
	configFile := flag.String("config", "", "Path to YAML config file (server mode)")
	serverURL := flag.String("server", "", "Service base URL to upload recordings to (e.g. https://host:8444)")
	insecureMode := flag.Bool("insecure", false, "Enable insecure mode (skip certificate verification)")
	serverCertFile := flag.String("cert", "", "Path to server certificate file")
	deviceID := flag.Int("device", 0, "Audio input device ID to use")
	title := flag.String("title", "", "Title for the new recording")
	playFile := flag.String("play", "", "Play audio file")
	listDevices := flag.Bool("list-devices", false, "List available audio input devices")
	issueToken := flag.String("issue-token", "", "Print a bearer token for this user ID, signed with JWT_SECRET")
	tokenTTL := flag.Duration("ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "\nServer environment:")
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	switch {
	case *playFile != "":
		if err := client.PlayAudioFile(ctx, *playFile); err != nil {
			slog.Error("Failed to play audio file", "error", err)
			os.Exit(1)
		}

	case *listDevices:
		devices, err := client.ListAudioDevices()
		if err != nil {
			slog.Error("Failed to list audio devices", "error", err)
			os.Exit(1)
		}

		fmt.Println("Available audio input devices:")
		for _, device := range devices {
			fmt.Printf("[%d] %s\n", device.ID, device.Name)
			fmt.Printf("    Max Input Channels: %d\n", device.MaxInputChannels)
			fmt.Printf("    Default Sample Rate: %f\n", device.DefaultSampleRate)
			fmt.Println()
		}

	case *issueToken != "":
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			slog.Error("JWT_SECRET environment variable is not set")
			os.Exit(1)
		}
		token, err := auth.NewVerifier(secret).Issue(*issueToken, *tokenTTL)
		if err != nil {
			slog.Error("Failed to issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)

	case *serve:
		if err := runServer(ctx, *configFile); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}

	case *serverURL != "":
		token := os.Getenv("VOXNOTE_TOKEN")
		if token == "" {
			slog.Error("VOXNOTE_TOKEN environment variable is not set")
			os.Exit(1)
		}
		if err := runRecorder(ctx, *serverURL, token, *insecureMode, *serverCertFile, *deviceID, *title); err != nil {
			slog.Error("Recording session failed", "error", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(1)
	}

	slog.Debug("Program exiting")
}

func runRecorder(ctx context.Context, serverURL, token string, insecure bool, certFile string, deviceID int, title string) error {
	uploader, err := client.NewUploader(serverURL, token, insecure, certFile)
	if err != nil {
		return err
	}

	rec, err := client.RunSession(ctx, client.SessionConfig{
		Device:   &client.PortAudioDevice{DeviceID: deviceID},
		Uploader: uploader,
		Title:    title,
		In:       os.Stdin,
		Out:      os.Stdout,
	})
	if errors.Is(err, client.ErrQuit) || errors.Is(err, context.Canceled) {
		fmt.Println("Nothing uploaded")
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("Recording submitted", "recordingID", rec.ID, "status", rec.Status)
	return nil
}

func runServer(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	var blobs blob.Store
	switch cfg.Blob.Backend {
	case "s3":
		blobs, err = blob.NewS3(blob.S3Config{
			Bucket:   cfg.Blob.Bucket,
			Region:   cfg.Blob.Region,
			Endpoint: cfg.Blob.Endpoint,
		})
	default:
		blobs, err = blob.NewFS(cfg.Blob.Dir)
	}
	if err != nil {
		return err
	}

	transcriber, err := analysis.NewGeminiTranscriber(ctx, analysis.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
	})
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)

	var dispatcher pipeline.Dispatcher
	switch cfg.Dispatch {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		dispatcher = pipeline.NewRedisQueue(rdb, cfg.Redis.Queue)
	case "http":
		dispatcher = pipeline.NewTriggerClient(cfg.TriggerURL, verifier, &http.Client{Timeout: cfg.Analysis.Timeout + time.Minute})
	}

	scribeService, err := scribe.New(scribe.Config{
		HTTPAddr:        cfg.HTTPAddr,
		CertFile:        cfg.CertFile,
		KeyFile:         cfg.KeyFile,
		InboxDir:        cfg.InboxDir,
		Workers:         cfg.Analysis.Workers,
		QueueSize:       cfg.Analysis.QueueSize,
		AnalysisTimeout: cfg.Analysis.Timeout,
		Blobs:           blobs,
		Store:           st,
		Transcriber:     transcriber,
		Verifier:        verifier,
		Dispatcher:      dispatcher,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Scribe: %w", err)
	}

	// Ensure Scribe is stopped on shutdown
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Analysis.Timeout+30*time.Second)
		defer stopCancel()
		if err := scribeService.Stop(stopCtx); err != nil {
			slog.Error("Failed to stop Scribe service", "error", err)
		}
	}()

	return scribeService.Start(ctx)
}
