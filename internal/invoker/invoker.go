// Package invoker submits workflow documents to the execution backend.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "promptclock/pkg/logx"
)

// ErrUnavailable wraps transport failures (connection refused, timeouts, ...).
var ErrUnavailable = errors.New("backend unavailable")

// UnknownPromptID is reported when a successful response carries no identifier.
const UnknownPromptID = "unknown"

// StatusError is returned for any response other than HTTP 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Body)
}

type Result struct {
	PromptID string `json:"prompt_id"`
}

// Submitter is the action side of a fired trigger.
type Submitter interface {
	Submit(ctx context.Context, prompt json.RawMessage) (Result, error)
}

type Options struct {
	BaseURL  string
	Path     string        // default "/prompt"
	ClientID string        // default "scheduled_task"
	Timeout  time.Duration // default 30s
	// RatePerSec limits submissions. <= 0 means one per second with burst 1.
	RatePerSec float64
	Client     *http.Client
	Logger     logx.Logger
}

// HTTP posts {"prompt": ..., "client_id": ...} to the backend.
type HTTP struct {
	url      string
	clientID string
	client   *http.Client
	lim      *rate.Limiter
	log      logx.Logger
}

func NewHTTP(opts Options) *HTTP {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = "/prompt"
	}
	clientID := strings.TrimSpace(opts.ClientID)
	if clientID == "" {
		clientID = "scheduled_task"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	rps := opts.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	burst := max(int(rps), 1)
	log := opts.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{
		url:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/") + path,
		clientID: clientID,
		client:   client,
		lim:      rate.NewLimiter(rate.Limit(rps), burst),
		log:      log,
	}
}

// URL returns the full submission endpoint.
func (h *HTTP) URL() string { return h.url }

type submitBody struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

func (h *HTTP) Submit(ctx context.Context, prompt json.RawMessage) (Result, error) {
	if len(bytes.TrimSpace(prompt)) == 0 {
		return Result{}, errors.New("empty prompt")
	}
	if err := h.lim.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body, err := json.Marshal(submitBody{Prompt: prompt, ClientID: h.clientID})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return Result{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out struct {
		PromptID any `json:"prompt_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		h.log.Debug("backend response not json", logx.Err(err))
	}
	res := Result{PromptID: UnknownPromptID}
	switch v := out.PromptID.(type) {
	case string:
		if v != "" {
			res.PromptID = v
		}
	case float64:
		res.PromptID = fmt.Sprint(v)
	}
	return res, nil
}
