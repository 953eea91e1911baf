// Package notify pushes reconstruction events to an external webhook so
// review tooling can react to corrections without polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/otbreview/otbrecon/internal/obslog"
	"github.com/otbreview/otbrecon/internal/recon"
)

// HeaderProvider allows injecting per-request headers, typically auth.
type HeaderProvider func() map[string]string

type Webhook struct {
	url     string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Webhook)

func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) { w.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(w *Webhook) { w.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(w *Webhook) { w.headers = h }
}

func WithRetry(max int) Option {
	return func(w *Webhook) { w.retryMax = max }
}

func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url:            strings.TrimSpace(url),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// MoveInfo is the webhook view of an accepted move.
type MoveInfo struct {
	UCI         string  `json:"uci"`
	SAN         string  `json:"san"`
	Confidence  float64 `json:"confidence"`
	Provisional bool    `json:"provisional"`
	Resolved    bool    `json:"resolved"`
}

// CorrectionInfo is the webhook view of a correction request.
type CorrectionInfo struct {
	ID         string   `json:"id"`
	Reason     string   `json:"reason"`
	State      string   `json:"state"`
	Candidates []string `json:"candidates,omitempty"`
}

// Payload is one webhook delivery.
type Payload struct {
	RunID      string          `json:"run_id"`
	Event      string          `json:"event"`
	Frame      int             `json:"frame"`
	Move       *MoveInfo       `json:"move,omitempty"`
	Correction *CorrectionInfo `json:"correction,omitempty"`
	At         time.Time       `json:"at"`
}

// Send posts one payload, retrying transient failures with backoff.
func (w *Webhook) Send(ctx context.Context, p *Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.url)
	req.Header.SetContentType("application/json")
	if w.headers != nil {
		for k, v := range w.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(body)

	attempts := w.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := w.http.DoDeadline(req, resp, w.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("webhook request: %w", err)
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		}
		if attempt < attempts {
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

// EngineListener adapts the webhook to engine events. Deliveries run on
// their own goroutine because listeners execute under the engine lock.
func (w *Webhook) EngineListener(runID string) recon.Listener {
	return func(ev recon.Event) {
		p := &Payload{
			RunID: runID,
			Event: string(ev.Kind),
			Frame: ev.Frame,
			At:    time.Now(),
		}
		if ev.Move != nil {
			p.Move = &MoveInfo{
				UCI:         ev.Move.UCI,
				SAN:         ev.Move.SAN,
				Confidence:  ev.Move.Confidence,
				Provisional: ev.Move.Provisional,
				Resolved:    ev.Move.Resolved,
			}
		}
		if ev.Correction != nil {
			ci := &CorrectionInfo{
				ID:     ev.Correction.ID,
				Reason: string(ev.Correction.Reason),
				State:  string(ev.Correction.State),
			}
			for _, c := range ev.Correction.Candidates {
				ci.Candidates = append(ci.Candidates, c.UCI)
			}
			p.Correction = ci
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), w.defaultTimeout)
			defer cancel()
			if err := w.Send(ctx, p); err != nil {
				obslog.L().Warn("webhook delivery failed",
					zap.String("run_id", runID),
					zap.String("event", p.Event),
					zap.Error(err),
				)
			}
		}()
	}
}

func (w *Webhook) computeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(w.defaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	d := time.Duration(attempt) * 200 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func shouldRetryStatus(status int) bool {
	switch status {
	case fasthttp.StatusTooManyRequests,
		fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
