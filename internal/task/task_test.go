package task

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/runopts"
)

// fakeBridge records every call. Events registered through it can be fired
// from inside the execution calls with emit.
type fakeBridge struct {
	nextID      uint32
	subs        map[uint32]func(string)
	kinds       map[uint32]string
	calls       []string
	configs     []runopts.Options
	closed      int
	failUnsub   map[uint32]bool
	runErr      error
	onRun       func(b *fakeBridge)
	unsubCalled []uint32
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		subs:      make(map[uint32]func(string)),
		kinds:     make(map[uint32]string),
		failUnsub: make(map[uint32]bool),
	}
}

func (b *fakeBridge) SubscribeEvent(kind string, cb func(string)) (uint32, error) {
	if kind == "LOG_TRACE" {
		return 0, errors.NewBridgeError("subscribe", errors.ErrInvalidEventKind).WithEventKind(kind)
	}
	b.nextID++
	b.subs[b.nextID] = cb
	b.kinds[b.nextID] = kind
	b.calls = append(b.calls, "subscribe:"+kind)
	return b.nextID, nil
}

func (b *fakeBridge) UnsubscribeEvent(id uint32) error {
	b.unsubCalled = append(b.unsubCalled, id)
	if b.failUnsub[id] {
		return errors.NewBridgeError("unsubscribe", errors.ErrUnknownSubscription).WithSubscription(id)
	}
	if _, ok := b.subs[id]; !ok {
		return errors.NewBridgeError("unsubscribe", errors.ErrUnknownSubscription).WithSubscription(id)
	}
	delete(b.subs, id)
	return nil
}

func (b *fakeBridge) InitWithConfig(opts runopts.Options) error {
	b.calls = append(b.calls, "init")
	b.configs = append(b.configs, opts)
	return nil
}

func (b *fakeBridge) exec(name string) error {
	b.calls = append(b.calls, name)
	if b.onRun != nil {
		b.onRun(b)
	}
	return b.runErr
}

func (b *fakeBridge) Compile() error   { return b.exec("compile") }
func (b *fakeBridge) Interpret() error { return b.exec("interpret") }
func (b *fakeBridge) Close() error     { b.closed++; return nil }

func (b *fakeBridge) emit(kind, msg string) {
	for id := uint32(1); id <= b.nextID; id++ {
		if cb, ok := b.subs[id]; ok && b.kinds[id] == kind {
			cb(msg)
		}
	}
}

// bytecodeBridge adds the optional bytecode entry point.
type bytecodeBridge struct{ *fakeBridge }

func (b bytecodeBridge) InterpretBytecode() error { return b.exec("interpret_bytecode") }

func newTestTask(hooks Hooks) *Task {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/src/main.kaubo", []byte("print(1)"), 0o644)
	return New(hooks, WithID("t1"), WithFs(fs))
}

func TestLifecycle(t *testing.T) {
	b := newFakeBridge()
	var got []string
	b.onRun = func(b *fakeBridge) { b.emit("LOG_INFO", "hello") }

	tk := newTestTask(nil)
	if err := tk.Subscribe("LOG_INFO", func(msg string) { got = append(got, "first:"+msg) }); err != nil {
		t.Fatal(err)
	}
	if err := tk.Subscribe("LOG_INFO", func(msg string) { got = append(got, "second:"+msg) }); err != nil {
		t.Fatal(err)
	}
	if tk.Pending() != 2 || len(b.calls) != 0 {
		t.Fatalf("subscriptions were not queued before bind")
	}

	if err := tk.Bind(b); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if tk.State() != StateBound || tk.Bridge() == nil {
		t.Fatalf("state = %v after Bind", tk.State())
	}
	if diff := cmp.Diff([]uint32{1, 2}, tk.Subscriptions()); diff != "" {
		t.Errorf("flushed subscriptions mismatch (-want +got):\n%s", diff)
	}

	raw := runopts.Options{"interpret": true, "file": "/src/main.kaubo", "show_result": false, "x": nil}
	if err := tk.Configure(raw); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	wantOpts := runopts.Options{"interpret": true, "file": "/src/main.kaubo"}
	if diff := cmp.Diff([]runopts.Options{wantOpts}, b.configs); diff != "" {
		t.Errorf("bridge received unnormalized options (-want +got):\n%s", diff)
	}

	if err := tk.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"first:hello", "second:hello"}, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	wantCalls := []string{"subscribe:LOG_INFO", "subscribe:LOG_INFO", "init", "interpret"}
	if diff := cmp.Diff(wantCalls, b.calls); diff != "" {
		t.Errorf("bridge calls mismatch (-want +got):\n%s", diff)
	}
	if tk.State() != StateTerminated || tk.Bridge() != nil || tk.Options() != nil {
		t.Errorf("task not cleaned up: state=%v bridge=%v options=%v", tk.State(), tk.Bridge(), tk.Options())
	}
	if len(b.subs) != 0 || b.closed != 1 {
		t.Errorf("bridge not released: live=%d closed=%d", len(b.subs), b.closed)
	}
}

func TestStateMachine(t *testing.T) {
	tk := newTestTask(nil)
	if err := tk.Configure(runopts.Options{"interpret": true}); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Configure before Bind error = %v, want ErrInvalidState", err)
	}
	if err := tk.Run(); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Run before Configure error = %v, want ErrInvalidState", err)
	}
	if err := tk.Bind(newFakeBridge()); err != nil {
		t.Fatal(err)
	}
	if err := tk.Bind(newFakeBridge()); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("second Bind error = %v, want ErrInvalidState", err)
	}
	if err := tk.Configure(runopts.Options{"interpret": true}); err != nil {
		t.Fatal(err)
	}
	if err := tk.Run(); err != nil {
		t.Fatal(err)
	}
	if err := tk.Run(); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Run after Terminated error = %v, want ErrInvalidState", err)
	}
	if err := tk.Configure(runopts.Options{"interpret": true}); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Configure after Terminated error = %v, want ErrInvalidState", err)
	}
	if err := tk.Subscribe("LOG_INFO", func(string) {}); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Subscribe after Terminated error = %v, want ErrInvalidState", err)
	}
}

func TestBindRejectsNilBridge(t *testing.T) {
	tk := newTestTask(nil)
	err := tk.Bind(nil)
	if !errors.Is(err, errors.ErrIncompatibleBridge) {
		t.Fatalf("Bind(nil) error = %v, want ErrIncompatibleBridge", err)
	}
	var taskErr *errors.TaskError
	if !errors.As(err, &taskErr) || taskErr.TaskID != "t1" || taskErr.Phase != PhaseBind {
		t.Errorf("error context = %+v", taskErr)
	}
	if tk.State() != StateUnbound {
		t.Errorf("state = %v, want unbound", tk.State())
	}
}

func TestAsBridge(t *testing.T) {
	if _, err := AsBridge(newFakeBridge()); err != nil {
		t.Errorf("AsBridge(fake) error = %v", err)
	}

	type partial struct{ fakeCompiler }
	_, err := AsBridge(partial{})
	if !errors.Is(err, errors.ErrIncompatibleBridge) {
		t.Fatalf("AsBridge(partial) error = %v, want ErrIncompatibleBridge", err)
	}
	for _, name := range []string{"SubscribeEvent", "UnsubscribeEvent", "InitWithConfig", "Interpret"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name missing %s", err, name)
		}
	}
	if strings.Contains(err.Error(), "Compile,") || strings.HasSuffix(err.Error(), "Compile") {
		t.Errorf("error %q names Compile, which is present", err)
	}
}

type fakeCompiler struct{}

func (fakeCompiler) Compile() error { return nil }

func TestConfigureSourceFileNotFound(t *testing.T) {
	b := newFakeBridge()
	tk := newTestTask(nil)
	if err := tk.Bind(b); err != nil {
		t.Fatal(err)
	}
	err := tk.Configure(runopts.Options{"interpret": true, "file": "/src/missing.kaubo"})
	if !errors.Is(err, errors.ErrSourceFileNotFound) {
		t.Fatalf("Configure() error = %v, want ErrSourceFileNotFound", err)
	}
	if len(b.configs) != 0 {
		t.Error("bridge was initialized despite a missing source file")
	}
	if tk.State() != StateBound {
		t.Errorf("state = %v, want bound", tk.State())
	}
}

func TestConfigurePlaceholder(t *testing.T) {
	b := newFakeBridge()
	tk := newTestTask(nil)
	_ = tk.Bind(b)
	if err := tk.Configure(runopts.Options{"compile": false}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(runopts.TaskPlaceholder(), tk.Options()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestRunModeDispatch(t *testing.T) {
	tests := []struct {
		name     string
		opts     runopts.Options
		bytecode bool
		want     string
		wantErr  error
	}{
		{"interpret", runopts.Options{"interpret": true}, false, "interpret", nil},
		{"compile", runopts.Options{"compile": true}, false, "compile", nil},
		{"interpret wins over compile", runopts.Options{"compile": true, "interpret": true}, false, "interpret", nil},
		{"bytecode", runopts.Options{"interpret_bytecode": true}, true, "interpret_bytecode", nil},
		{"bytecode unsupported", runopts.Options{"interpret_bytecode": true}, false, "", errors.ErrIncompatibleBridge},
		{"no mode", runopts.Options{"source": "x"}, false, "", errors.ErrNoExecutionMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBridge()
			var b Bridge = fb
			if tt.bytecode {
				b = bytecodeBridge{fb}
			}
			tk := newTestTask(nil)
			if err := tk.Bind(b); err != nil {
				t.Fatal(err)
			}
			if err := tk.Configure(tt.opts); err != nil {
				t.Fatal(err)
			}

			err := tk.Run()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			last := fb.calls[len(fb.calls)-1]
			if tt.want != "" && last != tt.want {
				t.Errorf("dispatched %q, want %q", last, tt.want)
			}
			if tk.State() != StateTerminated {
				t.Errorf("state = %v, want terminated", tk.State())
			}
		})
	}
}

func TestRunFailureStillCleansUp(t *testing.T) {
	b := newFakeBridge()
	b.runErr = errors.New("native interpreter crashed")
	tk := newTestTask(nil)
	_ = tk.Subscribe("LOG_ERROR", func(string) {})
	_ = tk.Bind(b)
	_ = tk.Configure(runopts.Options{"interpret": true})

	err := tk.Run()
	if err == nil || !strings.Contains(err.Error(), "native interpreter crashed") {
		t.Fatalf("Run() error = %v", err)
	}
	if tk.State() != StateTerminated || len(b.subs) != 0 || b.closed != 1 {
		t.Errorf("cleanup did not run: state=%v live=%d closed=%d", tk.State(), len(b.subs), b.closed)
	}
}

// skipCleanupHooks overrides OnRun without calling Base, so only the
// orchestrator can release the bridge.
type skipCleanupHooks struct {
	Base
	ran bool
}

func (h *skipCleanupHooks) OnRun(t *Task) error {
	h.ran = true
	return nil
}

func TestCustomHooksCannotSkipCleanup(t *testing.T) {
	h := &skipCleanupHooks{}
	b := newFakeBridge()
	tk := newTestTask(h)
	_ = tk.Subscribe("LOG_INFO", func(string) {})
	_ = tk.Bind(b)
	_ = tk.Configure(runopts.Options{"interpret": true})

	if err := tk.Run(); err != nil {
		t.Fatal(err)
	}
	if !h.ran {
		t.Error("custom OnRun was not called")
	}
	if tk.State() != StateTerminated || len(b.subs) != 0 {
		t.Errorf("orchestrator did not clean up: state=%v live=%d", tk.State(), len(b.subs))
	}
}

func TestCleanupIdempotent(t *testing.T) {
	b := newFakeBridge()
	tk := newTestTask(nil)
	_ = tk.Subscribe("LOG_INFO", func(string) {})
	_ = tk.Bind(b)

	tk.Cleanup()
	tk.Cleanup()

	if b.closed != 1 {
		t.Errorf("bridge closed %d times, want 1", b.closed)
	}
	if diff := cmp.Diff([]uint32{1}, b.unsubCalled); diff != "" {
		t.Errorf("unsubscribe calls mismatch (-want +got):\n%s", diff)
	}
	if tk.State() != StateTerminated {
		t.Errorf("state = %v", tk.State())
	}

	unbound := newTestTask(nil)
	unbound.Cleanup()
	unbound.Cleanup()
	if unbound.State() != StateTerminated {
		t.Errorf("unbound cleanup state = %v", unbound.State())
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newFakeBridge()
	tk := newTestTask(nil)
	_ = tk.Bind(b)

	id, err := tk.SubscribeEvent("LOG_WARNING", func(string) {})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tk.SubscribeEvent("LOG_TRACE", func(string) {}); !errors.Is(err, errors.ErrInvalidEventKind) {
		t.Errorf("invalid kind error = %v", err)
	}
	if err := tk.UnsubscribeEvent(99); !errors.Is(err, errors.ErrUnknownSubscription) {
		t.Errorf("unknown id error = %v, want ErrUnknownSubscription", err)
	}
	if err := tk.UnsubscribeEvent(id); err != nil {
		t.Fatalf("UnsubscribeEvent() error = %v", err)
	}
	if err := tk.UnsubscribeEvent(id); !errors.Is(err, errors.ErrUnknownSubscription) {
		t.Errorf("second unsubscribe error = %v, want ErrUnknownSubscription", err)
	}
}

func TestUnsubscribeAllContinuesPastFailures(t *testing.T) {
	b := newFakeBridge()
	tk := newTestTask(nil)
	_ = tk.Bind(b)
	for range 3 {
		if _, err := tk.SubscribeEvent("LOG_INFO", func(string) {}); err != nil {
			t.Fatal(err)
		}
	}
	b.failUnsub[2] = true

	tk.UnsubscribeAll()

	if diff := cmp.Diff([]uint32{1, 2, 3}, b.unsubCalled); diff != "" {
		t.Errorf("unsubscribe attempts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{2}, tk.Subscriptions()); diff != "" {
		t.Errorf("remaining subscriptions mismatch (-want +got):\n%s", diff)
	}

	tk.Cleanup()
	if len(tk.Subscriptions()) != 0 {
		t.Errorf("Cleanup kept %v", tk.Subscriptions())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if diff := cmp.Diff([]string{DefaultKind}, r.Kinds()); diff != "" {
		t.Errorf("Kinds() mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.Build(DefaultKind); err != nil {
		t.Errorf("Build(default) error = %v", err)
	}
	if _, err := r.Lookup("verbose"); !errors.Is(err, errors.ErrInvalidTaskKind) {
		t.Errorf("Lookup(unknown) error = %v, want ErrInvalidTaskKind", err)
	}
	if err := r.Register("nil", func() Hooks { return nil }); !errors.Is(err, errors.ErrInvalidTaskKind) {
		t.Errorf("Register(nil hooks) error = %v, want ErrInvalidTaskKind", err)
	}
	if err := r.Register("", nil); !errors.Is(err, errors.ErrInvalidTaskKind) {
		t.Errorf("Register(empty) error = %v, want ErrInvalidTaskKind", err)
	}
	if err := r.Register("skip", func() Hooks { return &skipCleanupHooks{} }); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	h, err := r.Build("skip")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.(*skipCleanupHooks); !ok {
		t.Errorf("Build(skip) = %T", h)
	}
}
