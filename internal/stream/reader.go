package stream

import (
	"bytes"
	"io"
	"strings"

	"github.com/r3labs/sse/v2"
)

const maxEventSize = 1 << 20

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Reader decodes a text/event-stream body. Event framing is done by the
// r3labs/sse stream reader; fields are interpreted here.
type Reader struct {
	src         *tailReader
	events      *sse.EventStreamReader
	next        []byte
	lastEventID string
}

// NewReader wraps r in an event-stream decoder.
func NewReader(r io.Reader) *Reader {
	src := &tailReader{r: r}
	return &Reader{
		src:    src,
		events: sse.NewEventStreamReader(src, maxEventSize),
	}
}

// Next blocks until a complete event is dispatched. It returns io.EOF when the
// stream ends; a partially buffered event at EOF is discarded.
func (r *Reader) Next() (Event, error) {
	for {
		block, err := r.readBlock()
		if err != nil {
			return Event{}, err
		}
		if ev, ok := r.parse(block); ok {
			return ev, nil
		}
	}
}

// readBlock returns the next raw event block. Once the body is exhausted it
// looks one block ahead so an unterminated final block can be dropped.
func (r *Reader) readBlock() ([]byte, error) {
	block := r.next
	r.next = nil
	if block == nil {
		raw, err := r.events.ReadEvent()
		if err != nil {
			return nil, err
		}
		block = bytes.Clone(raw)
	}
	if r.src.eof {
		raw, err := r.events.ReadEvent()
		if err == nil {
			r.next = bytes.Clone(raw)
		} else if !r.src.terminated() {
			return nil, io.EOF
		}
	}
	return block, nil
}

// parse interprets one block. Blocks without data lines dispatch nothing.
// retry is ignored: reconnect delays belong to the monitor's Policy.
func (r *Reader) parse(block []byte) (Event, bool) {
	var (
		name    string
		data    strings.Builder
		hasData bool
	)
	for _, line := range strings.Split(lineBreaks.Replace(string(block)), "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastEventID = value
			}
		}
	}
	if !hasData {
		return Event{}, false
	}
	if name == "" {
		name = DefaultEventName
	}
	return Event{ID: r.lastEventID, Name: name, Data: data.String()}, true
}

// tailReader remembers whether the body has ended and how it ended.
type tailReader struct {
	r    io.Reader
	tail [4]byte
	size int
	eof  bool
}

func (t *tailReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	for _, b := range p[max(0, n-len(t.tail)):n] {
		copy(t.tail[:], t.tail[1:])
		t.tail[len(t.tail)-1] = b
		t.size++
	}
	if err == io.EOF {
		t.eof = true
	}
	return n, err
}

// terminated reports whether the body ended on a blank line.
func (t *tailReader) terminated() bool {
	end := t.tail[max(0, len(t.tail)-t.size):]
	for _, delim := range []string{"\n\n", "\r\r", "\r\n\r\n"} {
		if bytes.HasSuffix(end, []byte(delim)) {
			return true
		}
	}
	return false
}
