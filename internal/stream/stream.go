// Package stream consumes server-sent generation streams.
//
// Each event is a single "data: " line carrying a JSON object of type chunk,
// result or error. Chunk text is accumulated until a terminal event arrives.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type EventType string

const (
	EventChunk  EventType = "chunk"
	EventResult EventType = "result"
	EventError  EventType = "error"
)

// Event is one decoded data line.
type Event struct {
	Type  EventType       `json:"type"`
	Text  string          `json:"text,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (e Event) terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// Result is the aggregate of a finished stream.
type Result struct {
	Text   string
	Data   json.RawMessage
	Chunks int
}

var (
	// ErrGeneration wraps the message of an error event.
	ErrGeneration = errors.New("generation failed")
	// ErrIncomplete is returned when the stream ends before a terminal event.
	ErrIncomplete = errors.New("stream ended without result")
)

const maxLine = 1 << 20

// ParseLine decodes one SSE line. Blank lines, comments and non-data fields
// yield a nil event.
func ParseLine(line string) (*Event, error) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return nil, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		return nil, nil
	}
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}
	switch evt.Type {
	case EventChunk, EventResult, EventError:
	default:
		// Unknown types are skipped.
		return nil, nil
	}
	return &evt, nil
}

// Consume reads r until a result or error event. onChunk receives each chunk
// text in order and is never invoked once ctx is done. When r is an
// io.Closer it is closed on cancellation to unblock the read.
func Consume(ctx context.Context, r io.Reader, onChunk func(text string)) (Result, error) {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var (
		res  Result
		text strings.Builder
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			res.Text = text.String()
			return res, err
		}
		evt, err := ParseLine(scanner.Text())
		if err != nil {
			return res, err
		}
		if evt == nil {
			continue
		}
		switch evt.Type {
		case EventChunk:
			// Cancellation may land while the line is parsed.
			if err := ctx.Err(); err != nil {
				res.Text = text.String()
				return res, err
			}
			text.WriteString(evt.Text)
			res.Chunks++
			if onChunk != nil {
				onChunk(evt.Text)
			}
		case EventResult:
			res.Data = evt.Data
			if evt.Text != "" {
				text.WriteString(evt.Text)
			}
		case EventError:
			res.Text = text.String()
			msg := evt.Error
			if msg == "" {
				msg = "unknown error"
			}
			return res, fmt.Errorf("%w: %s", ErrGeneration, msg)
		}
		if evt.terminal() {
			res.Text = text.String()
			return res, nil
		}
	}
	res.Text = text.String()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := scanner.Err(); err != nil {
		return res, err
	}
	return res, ErrIncomplete
}
