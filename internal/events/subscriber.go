package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bmess/blueocean-plugin/internal/backend"
	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/platform/requestid"
)

// Subscriber reads job events from an SSE endpoint. It does not reconnect;
// callers decide whether to run it again.
type Subscriber struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
	// OnConnect, when set, is called once the stream responded with 2xx.
	OnConnect func()
}

// Run streams events to handle until the stream ends, ctx is cancelled or
// handle returns an error. Messages that are not job run events are skipped.
func (s *Subscriber) Run(ctx context.Context, handle func(context.Context, domain.Event) error) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return &backend.TransportError{URL: s.URL, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id, err := requestid.New(); err == nil {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &backend.TransportError{URL: s.URL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &backend.TransportError{URL: s.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	logger.Info("event stream connected", "url", s.URL)
	if s.OnConnect != nil {
		s.OnConnect()
	}

	reader := NewReader(resp.Body)
	for {
		msg, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("event stream closed", "url", s.URL)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event stream: %w", err)
		}

		e, err := Decode([]byte(msg.Data))
		if err != nil {
			logger.Debug("event skipped", "sse_event", msg.Event, "error", err)
			continue
		}
		if err := handle(ctx, e); err != nil {
			return err
		}
	}
}
