// Package coordinator is the HTTP client the worker uses to talk to the
// aiVLE coordinator: pulling pending jobs, fetching task metadata,
// streaming down agent/suite bundles, and reporting terminal status.
// Grounded on the reference platform's pkg/client.Client, generalized from
// API-key auth to HTTP Basic (matching the original watcher's
// requests.Session(auth=(user, pass))) and from a fixed REST surface to the
// original's `<base>/[id/][action/]` URL convention.
package coordinator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aivle/evalworker/internal/metrics"
	"github.com/aivle/evalworker/pkg/types"
)

// Client talks to one coordinator endpoint (e.g. the jobs list, or the
// submissions list) using HTTP Basic Auth, the same credentials for every
// request as the reference Watcher/API pairing.
type Client struct {
	BaseURL    string
	httpClient *http.Client
	username   string
	password   string
}

// New builds a Client against baseURL (must end in "/"). InsecureSkipVerify
// mirrors the reference implementation's `verify=False`, which disables TLS
// verification against the coordinator's self-signed certificate.
func New(baseURL, username, password string, insecureSkipVerify bool) *Client {
	transport := http.DefaultTransport
	if insecureSkipVerify && isHTTPS(baseURL) {
		transport = insecureTransport()
	}
	return &Client{
		BaseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
	}
}

// buildURL follows the reference API.request convention: base + id/ + action/.
func (c *Client) buildURL(id, action string) string {
	u := c.BaseURL
	if id != "" {
		u += id + "/"
	}
	if action != "" {
		u += action + "/"
	}
	return u
}

func (c *Client) do(ctx context.Context, method, rawURL string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("coordinator: marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("coordinator: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coordinator: request %s: %w", rawURL, err)
	}
	return resp, nil
}

// observe records how long a coordinator operation took, for the
// evalworker_coordinator_request_duration_seconds histogram.
func observe(operation string, start time.Time) {
	metrics.CoordinatorRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ListPending fetches the queue of not-yet-claimed jobs.
func (c *Client) ListPending(ctx context.Context) ([]types.Job, error) {
	defer observe("list_pending", time.Now())
	resp, err := c.do(ctx, http.MethodGet, c.buildURL("", ""), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator: list pending returned %d", resp.StatusCode)
	}

	var jobs []types.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("coordinator: decode pending jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning tells the coordinator this worker has claimed jobID.
func (c *Client) MarkRunning(ctx context.Context, jobID string) error {
	defer observe("mark_running", time.Now())
	resp, err := c.do(ctx, http.MethodPost, c.buildURL(jobID, "run"), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator: run job %s returned %d", jobID, resp.StatusCode)
	}
	return nil
}

// GetTask fetches the Task resource at an absolute URL referenced by a Job.
func (c *Client) GetTask(ctx context.Context, taskURL string) (*types.Task, error) {
	defer observe("get_task", time.Now())
	resp, err := c.do(ctx, http.MethodGet, taskURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator: get task returned %d", resp.StatusCode)
	}

	var task types.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("coordinator: decode task: %w", err)
	}
	return &task, nil
}

// End reports a terminal Report for jobID, retrying on failure per
// maxRetries with a fixed delay between attempts — mirroring the reference
// JobRunner.end's recursive retry loop.
func (c *Client) End(ctx context.Context, jobID string, report types.Report, maxRetries int, retryDelay time.Duration) error {
	defer observe("end", time.Now())
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := c.do(ctx, http.MethodPost, c.buildURL(jobID, "end"), report)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			body, _ := io.ReadAll(resp.Body)
			lastErr = fmt.Errorf("coordinator: end job %s returned %d: %s", jobID, resp.StatusCode, string(body))
		} else {
			lastErr = err
		}

		if attempt < maxRetries {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// Download streams url's body to a file at destPath, without buffering the
// whole response in memory.
func (c *Client) Download(ctx context.Context, rawURL, destPath string) error {
	defer observe("download", time.Now())
	resp, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator: download %s returned %d", rawURL, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("coordinator: create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("coordinator: write %s: %w", destPath, err)
	}
	return nil
}

// SubmissionPage is one page of the paginated submissions listing, matching
// the reference bulk-download helper's {next, results} envelope.
type SubmissionPage struct {
	Next    string          `json:"next"`
	Results []types.Job     `json:"results"`
}

// ListSubmissions walks the coordinator's cursor-paginated submissions
// listing starting at startURL, invoking pageFn once per page. It stops when
// the server reports no further "next" link or pageFn returns an error.
// This exposes the reference bulk agent-prefetch script as a reusable
// interface rather than a one-shot procedural script.
func (c *Client) ListSubmissions(ctx context.Context, startURL string, pageFn func(SubmissionPage) error) error {
	next := startURL
	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("coordinator: list submissions %s returned %d", next, resp.StatusCode)
		}

		var page SubmissionPage
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("coordinator: decode submissions page: %w", decodeErr)
		}

		if err := pageFn(page); err != nil {
			return err
		}
		next = page.Next
	}
	return nil
}

// ParseHost returns the host portion of the client's configured base URL,
// useful for log lines and metric labels.
func (c *Client) ParseHost() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return u.Host
}

func insecureTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return t
}

func isHTTPS(rawURL string) bool {
	return strings.HasPrefix(rawURL, "https://")
}
