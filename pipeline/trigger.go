package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TokenIssuer signs short lived bearer tokens for an identity.
type TokenIssuer interface {
	Issue(userID string, ttl time.Duration) (string, error)
}

// TriggerClient posts jobs to a remote trigger endpoint without waiting for
// the analysis it starts.
type TriggerClient struct {
	url        string
	issuer     TokenIssuer
	httpClient *http.Client

	// done is called after each request finishes; used by tests.
	done func(error)
}

func NewTriggerClient(url string, issuer TokenIssuer, httpClient *http.Client) *TriggerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &TriggerClient{url: url, issuer: issuer, httpClient: httpClient}
}

func (c *TriggerClient) Dispatch(ctx context.Context, job Job) error {
	token, err := c.issuer.Issue(job.RequestedBy, 15*time.Minute)
	if err != nil {
		return fmt.Errorf("failed to issue trigger token: %w", err)
	}

	body, err := json.Marshal(Job{
		RecordingID: job.RecordingID,
		OwnerID:     job.OwnerID,
		StoragePath: job.StoragePath,
	})
	if err != nil {
		return fmt.Errorf("failed to encode trigger request: %w", err)
	}

	go func() {
		err := c.post(context.WithoutCancel(ctx), token, body)
		if err != nil {
			slog.Error("Analysis trigger failed", "error", err, "recordingID", job.RecordingID)
		}
		if c.done != nil {
			c.done(err)
		}
	}()
	return nil
}

func (c *TriggerClient) post(ctx context.Context, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send trigger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("trigger returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}
