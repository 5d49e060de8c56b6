// Package evidence ships violation snapshots to the evidence object store
// and signs a manifest of everything uploaded so the trail can be audited.
package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBucket is where violation snapshots live unless configured
// otherwise.
const DefaultBucket = "violation-evidence"

// Uploader stores JPEG snapshots in the evidence object store.
type Uploader struct {
	url        string
	bucket     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewUploader creates an uploader for the store at baseURL. An empty
// bucket defaults to DefaultBucket.
func NewUploader(baseURL, bucket string) *Uploader {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Uploader{
		url:    baseURL,
		bucket: bucket,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: slog.Default().With("component", "evidence-uploader"),
	}
}

// Key builds the object key for a snapshot:
// {examID}/{studentID}_{type}_{ts}.jpg.
func Key(examID, studentID, violationType string, ts time.Time) string {
	return fmt.Sprintf("%s/%s_%s_%d.jpg", examID, studentID, violationType, ts.Unix())
}

// Put uploads one snapshot and returns its public URL.
func (u *Uploader) Put(ctx context.Context, key string, jpeg []byte) (string, error) {
	url := fmt.Sprintf("%s/%s/%s", u.url, u.bucket, key)
	req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(jpeg))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("evidence store returned status %d for %s: %s", resp.StatusCode, key, string(body))
	}

	u.log.Debug("snapshot uploaded", "key", key, "bytes", len(jpeg))
	return url, nil
}
