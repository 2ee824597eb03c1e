// Package warehouse ships export files to Databricks. It covers exactly
// the two REST calls the export pipeline needs: uploading a file into a
// Unity Catalog volume and triggering the downstream ingest job.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client is a minimal Databricks workspace client.
type Client struct {
	host  string
	token string
	http  *http.Client
	log   *zap.Logger
}

// NewClient returns a Client for the workspace at host, authenticating
// with a bearer token. The timeout is generous because volume uploads
// stream whole files.
func NewClient(host, token string, log *zap.Logger) *Client {
	return &Client{
		host:  strings.TrimRight(host, "/"),
		token: token,
		http:  &http.Client{Timeout: 5 * time.Minute},
		log:   log.Named("databricks"),
	}
}

// Upload PUTs localFile to volumePath inside the workspace, overwriting
// any existing file. volumePath is the absolute volume path, e.g.
// /Volumes/main/trading/exports/orders.csv.
func (c *Client) Upload(ctx context.Context, localFile, volumePath string) error {
	f, err := os.Open(localFile)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localFile, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localFile, err)
	}

	u := c.host + "/api/2.0/fs/files" + escapePath(volumePath) + "?overwrite=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, f)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", localFile, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError("upload", resp)
	}

	c.log.Info("uploaded file",
		zap.String("local", localFile),
		zap.String("remote", volumePath),
		zap.Int64("bytes", info.Size()))
	return nil
}

// RunJob triggers the given job and returns the run ID Databricks
// assigned.
func (c *Client) RunJob(ctx context.Context, jobID int64) (int64, error) {
	payload, err := json.Marshal(map[string]int64{"job_id": jobID})
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/api/2.2/jobs/run-now", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building run-now request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("triggering job %d: %w", jobID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, apiError("run-now", resp)
	}

	var body struct {
		RunID int64 `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding run-now response: %w", err)
	}

	c.log.Info("triggered job", zap.Int64("job_id", jobID), zap.Int64("run_id", body.RunID))
	return body.RunID, nil
}

// escapePath escapes each segment of a volume path while keeping the
// separators intact.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// apiError summarizes a non-2xx response. The body is truncated so one
// bad call cannot flood the log.
func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("databricks %s: status %d, body: %s",
		op, resp.StatusCode, strings.TrimSpace(string(body)))
}
