package native

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/text/encoding/unicode"
)

// Handler receives the decoded text of one native event.
type Handler func(msg string)

// Trampoline is the native-callable entry point behind one subscription.
// Native entry points can never be freed, so trampolines are pooled and
// handed out again after their subscription is released. A released
// trampoline has no handler and drops late deliveries.
type Trampoline struct {
	slot    int
	handler atomic.Pointer[Handler]

	entryOnce sync.Once
	entry     uintptr
}

// Slot is the pool index of the trampoline. It is stable for the process.
func (t *Trampoline) Slot() int {
	return t.slot
}

// Active reports whether the trampoline currently forwards deliveries.
func (t *Trampoline) Active() bool {
	return t.handler.Load() != nil
}

// Deliver decodes raw as UTF-8, substituting U+FFFD for invalid sequences,
// and calls the handler synchronously. A nil buffer is ignored.
func (t *Trampoline) Deliver(raw []byte) {
	if raw == nil {
		return
	}
	h := t.handler.Load()
	if h == nil {
		return
	}
	(*h)(decode(raw))
}

// deliverC delivers a NUL-terminated native buffer.
func (t *Trampoline) deliverC(p uintptr) {
	if p == 0 {
		return
	}
	t.Deliver(cBytes(p))
}

func (t *Trampoline) bind(h Handler) {
	t.handler.Store(&h)
}

func (t *Trampoline) unbind() {
	t.handler.Store(nil)
}

func decode(raw []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return string([]rune(string(raw)))
	}
	return string(out)
}

// cBytes copies the NUL-terminated buffer at p.
func cBytes(p uintptr) []byte {
	base := unsafe.Pointer(p) //nolint:govet // pointer owned by the native caller for the duration of the call
	n := 0
	for *(*byte)(unsafe.Add(base, n)) != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(base), n))
	return out
}

// trampolinePool hands out trampolines, reusing released ones.
type trampolinePool struct {
	mu   sync.Mutex
	all  []*Trampoline
	free []*Trampoline
}

var trampolines trampolinePool

func (p *trampolinePool) acquire(h Handler) *Trampoline {
	p.mu.Lock()
	defer p.mu.Unlock()

	var t *Trampoline
	if n := len(p.free); n > 0 {
		t = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		t = &Trampoline{slot: len(p.all)}
		p.all = append(p.all, t)
	}
	t.bind(h)
	return t
}

func (p *trampolinePool) release(t *Trampoline) {
	t.unbind()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, t)
}

// size returns how many trampolines were ever created.
func (p *trampolinePool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}
