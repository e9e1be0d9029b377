// Package events reads Jenkins lifecycle events from the SSE gateway or from
// replay files and feeds them to a handler.
package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bmess/blueocean-plugin/internal/domain"
)

var ErrNotJobEvent = errors.New("not a job run event")

// Decode parses one event payload and rejects anything that is not a job run
// lifecycle event.
func Decode(data []byte) (domain.Event, error) {
	var e domain.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !IsJobRunEvent(e) {
		return e, fmt.Errorf("%w: %q", ErrNotJobEvent, e.JenkinsEvent)
	}
	if e.JobName == "" {
		return e, errors.New("decode event: blueocean_job_name is required")
	}
	return e, nil
}

func IsJobRunEvent(e domain.Event) bool {
	if e.Channel != "" && e.Channel != "job" {
		return false
	}
	return strings.HasPrefix(e.JenkinsEvent, "job_run_")
}

// ReadJSONL reads one event per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]domain.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []domain.Event
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		e, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
