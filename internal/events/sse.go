package events

import (
	"bufio"
	"io"
	"strings"
)

const maxLineBytes = 4 * 1024 * 1024

// Message is one dispatched server-sent event.
type Message struct {
	Event string
	ID    string
	Data  string
}

// Reader parses a text/event-stream body.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next message with data. It returns io.EOF at the end of
// the stream; a trailing message without its blank line is dropped.
func (r *Reader) Next() (Message, error) {
	var (
		msg     Message
		data    []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if hasData {
				msg.Data = strings.Join(data, "\n")
				return msg, nil
			}
			msg = Message{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Event = value
		case "id":
			msg.ID = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
