// Package channel carries a task between the factory and its worker process.
//
// The factory writes one Job to the worker's stdin. The worker reports back
// on the completion channel, an inherited pipe carrying a stream of
// msgpack-encoded Messages: zero or more forwarded native events followed by
// exactly one done message. A second inherited pipe, the gate, lets the
// factory hold a worker between Configure and Run.
package channel

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Message types.
const (
	TypeEvent = "event"
	TypeDone  = "done"
)

// Message is one value on the completion channel. Type selects which of the
// remaining fields are meaningful.
type Message struct {
	Type string `msgpack:"type"`
	Task string `msgpack:"task"`

	// event
	Event string `msgpack:"event,omitempty"`
	Sink  string `msgpack:"sink,omitempty"`
	Text  string `msgpack:"text,omitempty"`

	// done
	Seconds float64 `msgpack:"seconds,omitempty"`
	Error   string  `msgpack:"error,omitempty"`
}

// NewEvent returns a forwarded native event.
func NewEvent(task, event, text string) Message {
	return Message{Type: TypeEvent, Task: task, Event: event, Sink: "forward", Text: text}
}

// NewDone returns the completion record for task. A nil err reports success.
func NewDone(task string, elapsed time.Duration, err error) Message {
	m := Message{Type: TypeDone, Task: task, Seconds: Seconds(elapsed)}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// Failed reports whether a done message carries an error.
func (m Message) Failed() bool {
	return m.Type == TypeDone && m.Error != ""
}

// Seconds converts d to seconds rounded to two decimals.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// Writer sends messages. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *msgpack.Encoder
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: msgpack.NewEncoder(w)}
}

// Send encodes m.
func (w *Writer) Send(m Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(&m); err != nil {
		return fmt.Errorf("send %s message: %w", m.Type, err)
	}
	return nil
}

// Reader receives messages.
type Reader struct {
	dec *msgpack.Decoder
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: msgpack.NewDecoder(r)}
}

// Next decodes the next message. It returns io.EOF once the writer closed
// the stream between messages.
func (r *Reader) Next() (Message, error) {
	var m Message
	if err := r.dec.Decode(&m); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	if m.Type != TypeEvent && m.Type != TypeDone {
		return Message{}, fmt.Errorf("read message: unknown type %q", m.Type)
	}
	return m, nil
}
