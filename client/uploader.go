package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/bosley/voxnote/audio"
	"github.com/bosley/voxnote/store"
)

// Uploader sends finished recordings to the service.
type Uploader struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewUploader builds an uploader for baseURL. https servers are verified
// against certFile unless insecure is set; without either the system roots
// are used.
func NewUploader(baseURL, token string, insecure bool, certFile string) (*Uploader, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(baseURL, "https://") && (insecure || certFile != "") {
		tlsConfig, err := createTLSConfig(insecure, certFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Uploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Minute,
		},
	}, nil
}

func createTLSConfig(insecureMode bool, serverCertFile string) (*tls.Config, error) {
	if insecureMode {
		slog.Warn("Running in insecure mode. This should not be used in production!")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	// Load the server's certificate
	certPEM, err := os.ReadFile(serverCertFile)
	if err != nil {
		return nil, err
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("failed to append server certificate")
	}

	return &tls.Config{
		RootCAs: certPool,
	}, nil
}

// Upload posts the artifact as multipart form data. progress, when set,
// receives the percentage of the request body sent.
func (u *Uploader) Upload(ctx context.Context, artifact *audio.Artifact, title string, progress func(int)) (*store.Recording, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("title", title); err != nil {
		return nil, fmt.Errorf("failed to write title field: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="audio"; filename="recording.%s"`, audio.Extension(artifact.MIMEType())))
	header.Set("Content-Type", artifact.MIMEType())
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := io.Copy(part, artifact.Reader()); err != nil {
		return nil, fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	size := body.Len()
	reader := &progressReader{r: &body, total: size, report: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/recordings", reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = int64(size)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		return nil, fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, apiErr.Error)
	}

	var rec store.Recording
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	slog.Info("Uploaded recording", "recordingID", rec.ID, "bytes", artifact.Size())
	return &rec, nil
}

type progressReader struct {
	r      io.Reader
	total  int
	sent   int
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent += n
	if p.report != nil && p.total > 0 {
		if pct := p.sent * 100 / p.total; pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
