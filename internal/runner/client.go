package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"coderoom-backend/internal/config"
)

var (
	ErrExecutionTimeout = errors.New("execution timed out")
	ErrRunnerFailure    = errors.New("execute service failure")
)

// Request is what the execute service consumes: one source file plus the
// engine id, version and stdin.
type Request struct {
	Language string
	Version  string
	Filename string
	Source   string
	Stdin    string
}

// Result is the outcome of a run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// wire types for the Piston-style execute API
type executePayload struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
	Stdin    string        `json:"stdin,omitempty"`
}

type executeFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type executeResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Code   int    `json:"code"`
	} `json:"run"`
	Message string `json:"message,omitempty"`
}

// Client calls the remote code-execution service. Runs are dispatched by
// the room hub on their own goroutine, so a slow run never blocks the
// room's event handling.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates an execute service client from config.
func NewClient(cfg *config.RunnerConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		timeout: cfg.ExecuteTimeout,
		http: &http.Client{
			// the context deadline governs per-run time; this is a hard cap
			Timeout: cfg.ExecuteTimeout + 5*time.Second,
		},
	}
}

// Execute runs the source remotely. A deadline of c.timeout is applied on
// top of ctx; ErrExecutionTimeout is returned when it expires.
func (c *Client) Execute(ctx context.Context, req *Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := executePayload{
		Language: req.Language,
		Version:  req.Version,
		Files: []executeFile{
			{Name: req.Filename, Content: req.Source},
		},
		Stdin: req.Stdin,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, ErrExecutionTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrRunnerFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunnerFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Runner] Execute failed: status=%d body=%.200s", resp.StatusCode, raw)
		return nil, fmt.Errorf("%w: status %d", ErrRunnerFailure, resp.StatusCode)
	}

	var parsed executeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunnerFailure, err)
	}

	return &Result{
		Stdout:   parsed.Run.Stdout,
		Stderr:   parsed.Run.Stderr,
		ExitCode: parsed.Run.Code,
		Duration: time.Since(started),
	}, nil
}
