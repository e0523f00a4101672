package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/event"
	"github.com/Iron-Ham/kaubo/internal/native"
	"github.com/Iron-Ham/kaubo/internal/runopts"
	"github.com/Iron-Ham/kaubo/internal/sink"
	"github.com/Iron-Ham/kaubo/internal/testutil"
	"github.com/Iron-Ham/kaubo/internal/worker"
)

// workerEnv makes the test binary act as a worker backed by a fake library.
const workerEnv = "KAUBO_FACTORY_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		os.Exit(runTestWorker())
	}
	os.Exit(m.Run())
}

func runTestWorker() int {
	env := worker.Env{
		Open: func(string) (native.Library, error) {
			lib := testutil.NewFakeLibrary()
			lib.Script = fakeScript
			return lib, nil
		},
	}
	if err := worker.Main(context.Background(), os.Stdin, env); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

// fakeScript acts on the configured source text.
func fakeScript(lib *testutil.FakeLibrary, entry string) {
	configs := lib.Configs()
	var cfg map[string]any
	_ = json.Unmarshal([]byte(configs[len(configs)-1]), &cfg)
	switch cfg[runopts.KeySource] {
	case "emit":
		lib.Emit(native.LogInfo, "hello")
	case "sleep":
		time.Sleep(time.Minute)
	case "crash":
		os.Exit(3)
	}
}

// lockedBuffer is shared by the output copiers of concurrent workers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testFactory struct {
	*Factory
	spawned int
	stdout  lockedBuffer
	stderr  lockedBuffer
}

func newTestFactory(t *testing.T) *testFactory {
	t.Helper()
	name, err := native.LibraryFileName(native.DefaultBaseName)
	if err != nil {
		t.Skipf("no native library name on this platform: %v", err)
	}
	libDir := testutil.SetupSourceDir(t, map[string]string{name: ""})

	tf := &testFactory{}
	tf.Factory = New(
		WithWorkerCommand(func(ctx context.Context) (*exec.Cmd, error) {
			tf.spawned++
			cmd := exec.CommandContext(ctx, os.Args[0])
			cmd.Env = append(os.Environ(), workerEnv+"=1")
			return cmd, nil
		}),
		WithOutput(&tf.stdout, &tf.stderr),
		WithLibraryDirs(libDir),
		WithTerminateGrace(5*time.Second),
	)
	t.Cleanup(func() {
		for _, id := range tf.Tasks() {
			_, _ = tf.Terminate(id)
		}
	})
	return tf
}

func source(text string) runopts.Options {
	return runopts.Options{runopts.KeySource: text, runopts.KeyInterpret: true}
}

func mustRegister(t *testing.T, f *testFactory, id string, opts runopts.Options) {
	t.Helper()
	if err := f.RegisterConfig(id, opts, false); err != nil {
		t.Fatalf("RegisterConfig(%q) error = %v", id, err)
	}
}

func mustSpawn(t *testing.T, f *testFactory, taskID, configID string, opts SpawnOptions) *Process {
	t.Helper()
	p, err := f.SpawnTask(context.Background(), taskID, configID, opts)
	if err != nil {
		t.Fatalf("SpawnTask(%q) error = %v", taskID, err)
	}
	return p
}

func mustJoin(t *testing.T, f *testFactory, taskID string, timeout time.Duration) JoinResult {
	t.Helper()
	res, err := f.Join(taskID, timeout)
	if err != nil {
		t.Fatalf("Join(%q) error = %v", taskID, err)
	}
	return res
}

func TestRegisterConfig(t *testing.T) {
	f := newTestFactory(t)

	mustRegister(t, f, "dup", source("one"))
	err := f.RegisterConfig("dup", source("two"), false)
	if !errors.Is(err, errors.ErrDuplicateConfig) {
		t.Fatalf("RegisterConfig(dup) error = %v, want ErrDuplicateConfig", err)
	}
	if cfg, _ := f.Config("dup"); cfg[runopts.KeySource] != "one" {
		t.Errorf("config replaced without overwrite: %v", cfg)
	}

	if err := f.RegisterConfig("dup", source("two"), true); err != nil {
		t.Fatalf("RegisterConfig(overwrite) error = %v", err)
	}
	if cfg, _ := f.Config("dup"); cfg[runopts.KeySource] != "two" {
		t.Errorf("config not replaced: %v", cfg)
	}
}

func TestRegisterConfigNormalizes(t *testing.T) {
	f := newTestFactory(t)
	dir := testutil.SetupSourceDir(t, map[string]string{"main.kb": "print(1)"})

	mustRegister(t, f, "empty", runopts.Options{runopts.KeyCompile: false, runopts.KeyFile: nil})
	cfg, _ := f.Config("empty")
	if diff := cmp.Diff(runopts.FactoryPlaceholder(), cfg); diff != "" {
		t.Errorf("placeholder mismatch (-want +got):\n%s", diff)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(wd, filepath.Join(dir, "main.kb"))
	if err != nil {
		t.Fatal(err)
	}
	mustRegister(t, f, "file", runopts.Options{runopts.KeyFile: rel, runopts.KeyCompile: true})
	cfg, _ = f.Config("file")
	if path, _ := cfg.String(runopts.KeyFile); !filepath.IsAbs(path) {
		t.Errorf("file = %q, want absolute path", path)
	}

	err = f.RegisterConfig("missing", runopts.Options{runopts.KeyFile: filepath.Join(dir, "nope.kb")}, false)
	if !errors.Is(err, errors.ErrSourceFileNotFound) {
		t.Errorf("RegisterConfig(missing) error = %v, want ErrSourceFileNotFound", err)
	}
	if diff := cmp.Diff([]string{"empty", "file"}, f.ConfigIDs()); diff != "" {
		t.Errorf("ConfigIDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisterConfig(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "a", source("noop"))

	if err := f.UnregisterConfig("a"); err != nil {
		t.Fatalf("UnregisterConfig() error = %v", err)
	}
	if err := f.UnregisterConfig("a"); !errors.Is(err, errors.ErrUnknownConfig) {
		t.Errorf("UnregisterConfig(again) error = %v, want ErrUnknownConfig", err)
	}
}

func TestSetTaskKind(t *testing.T) {
	f := newTestFactory(t)
	if err := f.SetTaskKind("missing"); !errors.Is(err, errors.ErrInvalidTaskKind) {
		t.Errorf("SetTaskKind(missing) error = %v, want ErrInvalidTaskKind", err)
	}
	if f.TaskKind() != "default" {
		t.Errorf("TaskKind() = %q after failed set", f.TaskKind())
	}
}

func TestSpawnFailsBeforeProcess(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "a", source("noop"))

	tests := []struct {
		name string
		cfg  string
		opts SpawnOptions
		want error
	}{
		{"unknown config", "zzz", SpawnOptions{}, errors.ErrUnknownConfig},
		{"unknown sink", "a", SpawnOptions{Callbacks: []sink.Spec{{Event: "LOG_INFO", Sink: "syslog"}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.SpawnTask(context.Background(), "t2", tt.cfg, tt.opts)
			if err == nil {
				t.Fatal("SpawnTask() error = nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("SpawnTask() error = %v, want %v", err, tt.want)
			}
			if f.spawned != 0 || len(f.Tasks()) != 0 {
				t.Errorf("process created: spawned=%d tasks=%v", f.spawned, f.Tasks())
			}
		})
	}
}

func TestSpawnAndJoin(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "a", source("noop"))

	mustSpawn(t, f, "t1", "a", SpawnOptions{})
	if diff := cmp.Diff([]string{"t1"}, f.Tasks()); diff != "" {
		t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
	}

	res := mustJoin(t, f, "t1", 0)
	if res.TimedOut || res.ExitCode != 0 || res.Error != "" {
		t.Errorf("Join() = %+v, stderr:\n%s", res, f.stderr.String())
	}
	if len(f.Tasks()) != 0 {
		t.Errorf("Tasks() = %v after join", f.Tasks())
	}
	d, ok := f.Duration("t1")
	if !ok || d < 0 {
		t.Errorf("Duration(t1) = %v, %v", d, ok)
	}
}

func TestSpawnDuplicateTask(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "slow", source("sleep"))
	mustSpawn(t, f, "t1", "slow", SpawnOptions{})

	_, err := f.SpawnTask(context.Background(), "t1", "slow", SpawnOptions{})
	if !errors.Is(err, errors.ErrDuplicateTask) {
		t.Errorf("SpawnTask(dup) error = %v, want ErrDuplicateTask", err)
	}
	if f.spawned != 1 {
		t.Errorf("spawned = %d, want 1", f.spawned)
	}
}

func TestDurationRecordedOnFailure(t *testing.T) {
	f := newTestFactory(t)
	dir := testutil.SetupSourceDir(t, map[string]string{"gone.kb": "x"})
	path := filepath.Join(dir, "gone.kb")
	mustRegister(t, f, "vanishing", runopts.Options{runopts.KeyFile: path, runopts.KeyCompile: true})
	mustRegister(t, f, "crash", source("crash"))
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	mustSpawn(t, f, "configure-fails", "vanishing", SpawnOptions{})
	mustSpawn(t, f, "crashes", "crash", SpawnOptions{})

	res := mustJoin(t, f, "configure-fails", 0)
	if !strings.Contains(res.Error, errors.ErrSourceFileNotFound.Error()) {
		t.Errorf("Join(configure-fails).Error = %q", res.Error)
	}
	if res.ExitCode != 0 {
		t.Errorf("worker exit code = %d, want 0 after a reported failure", res.ExitCode)
	}
	res = mustJoin(t, f, "crashes", 0)
	if res.ExitCode != 3 || res.Error == "" {
		t.Errorf("Join(crashes) = %+v", res)
	}

	for _, id := range []string{"configure-fails", "crashes"} {
		if d, ok := f.Duration(id); !ok || d < 0 {
			t.Errorf("Duration(%s) = %v, %v", id, d, ok)
		}
	}
}

func TestJoinTimeoutKeepsTask(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "slow", source("sleep"))
	mustSpawn(t, f, "t1", "slow", SpawnOptions{})

	var timeouts []string
	var mu sync.Mutex
	f.Bus().Subscribe(event.TypeTaskTimeout, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		timeouts = append(timeouts, e.(event.TaskTimeoutEvent).TaskID)
	})

	res := mustJoin(t, f, "t1", 100*time.Millisecond)
	if !res.TimedOut {
		t.Fatalf("Join() = %+v, want timeout", res)
	}
	if diff := cmp.Diff([]string{"t1"}, f.Tasks()); diff != "" {
		t.Errorf("task not kept after timeout (-want +got):\n%s", diff)
	}
	mu.Lock()
	if diff := cmp.Diff([]string{"t1"}, timeouts); diff != "" {
		t.Errorf("timeout events mismatch (-want +got):\n%s", diff)
	}
	mu.Unlock()

	res, err := f.Terminate("t1")
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if !res.Terminated {
		t.Errorf("Terminate() = %+v", res)
	}
	if len(f.Tasks()) != 0 {
		t.Errorf("Tasks() = %v after terminate", f.Tasks())
	}
	if _, ok := f.Duration("t1"); ok {
		t.Error("terminated task should have no duration")
	}
}

func TestManageTaskErrors(t *testing.T) {
	f := newTestFactory(t)
	if _, err := f.ManageTask("ghost", ActionJoin, 0); !errors.Is(err, errors.ErrUnknownTask) {
		t.Errorf("ManageTask(ghost) error = %v, want ErrUnknownTask", err)
	}

	mustRegister(t, f, "a", source("noop"))
	mustSpawn(t, f, "t1", "a", SpawnOptions{})
	if _, err := f.ManageTask("t1", Action("pause"), 0); !errors.Is(err, errors.ErrUnsupportedAction) {
		t.Errorf("ManageTask(pause) error = %v, want ErrUnsupportedAction", err)
	}
	mustJoin(t, f, "t1", 0)
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"join", "JOIN", " terminate "} {
		if _, err := ParseAction(s); err != nil {
			t.Errorf("ParseAction(%q) error = %v", s, err)
		}
	}
	if _, err := ParseAction("pause"); !errors.Is(err, errors.ErrUnsupportedAction) {
		t.Errorf("ParseAction(pause) error = %v", err)
	}
}

func TestGatedTasksStartAfterRelease(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "emit", source("emit"))

	var mu sync.Mutex
	received := map[string]time.Time{}
	var released time.Time
	f.Bus().Subscribe(event.TypeTaskNative, func(e event.Event) {
		ne := e.(event.NativeEvent)
		mu.Lock()
		defer mu.Unlock()
		if ne.Kind == "LOG_INFO" && ne.Text == "hello" {
			received[ne.TaskID] = time.Now()
		}
	})

	forward := SpawnOptions{Gated: true, Callbacks: []sink.Spec{{Event: "LOG_INFO", Sink: sink.Forward}}}
	for _, id := range []string{"g1", "g2"} {
		p := mustSpawn(t, f, id, "emit", forward)
		if !p.Gated() {
			t.Fatalf("%s not gated", id)
		}
	}

	if res := mustJoin(t, f, "g1", 300*time.Millisecond); !res.TimedOut {
		t.Fatalf("gated task finished before release: %+v", res)
	}
	mu.Lock()
	early := len(received)
	released = time.Now()
	mu.Unlock()
	if early != 0 {
		t.Fatalf("events before release: %v", received)
	}

	if err := f.ReleaseGate(); err != nil {
		t.Fatalf("ReleaseGate() error = %v", err)
	}
	results := f.JoinAll(context.Background())
	for _, res := range results {
		if res.TimedOut || res.Error != "" {
			t.Errorf("JoinAll result %+v", res)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"g1", "g2"} {
		at, ok := received[id]
		if !ok {
			t.Errorf("no forwarded event from %s", id)
			continue
		}
		if at.Before(released) {
			t.Errorf("%s ran before release", id)
		}
	}
}

func TestReleaseGateUnknown(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "a", source("noop"))
	mustSpawn(t, f, "ungated", "a", SpawnOptions{})

	for _, id := range []string{"ghost", "ungated"} {
		if err := f.ReleaseGate(id); !errors.Is(err, errors.ErrUnknownTask) {
			t.Errorf("ReleaseGate(%s) error = %v, want ErrUnknownTask", id, err)
		}
	}
	mustJoin(t, f, "ungated", 0)
}

func TestTerminateGatedTask(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "a", source("noop"))
	mustSpawn(t, f, "held", "a", SpawnOptions{Gated: true})

	res, err := f.Terminate("held")
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if !res.Terminated || len(f.Tasks()) != 0 {
		t.Errorf("Terminate() = %+v, tasks %v", res, f.Tasks())
	}
}

func TestTotalDurationIsSum(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "a", source("noop"))
	ids := []string{"s1", "s2", "s3"}
	for _, id := range ids {
		mustSpawn(t, f, id, "a", SpawnOptions{})
	}
	f.JoinAll(context.Background())

	var sum float64
	for _, id := range ids {
		d, ok := f.Duration(id)
		if !ok {
			t.Fatalf("no duration for %s", id)
		}
		sum += d
	}
	if total := f.TotalDuration(); math.Abs(total-sum) > 0.005 {
		t.Errorf("TotalDuration() = %v, sum = %v", total, sum)
	}
	if len(f.Durations()) != len(ids) {
		t.Errorf("Durations() = %v", f.Durations())
	}
	if f.FetchDurations() != 0 {
		t.Error("FetchDurations() drained twice")
	}
}

func TestLifecycleEvents(t *testing.T) {
	f := newTestFactory(t)
	mustRegister(t, f, "a", source("noop"))

	var mu sync.Mutex
	var types []string
	f.Bus().SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.EventType())
	})

	mustSpawn(t, f, "t1", "a", SpawnOptions{})
	mustJoin(t, f, "t1", 0)

	mu.Lock()
	defer mu.Unlock()
	// The completion is published by the reader goroutine and may race the
	// spawn event.
	slices.Sort(types)
	if diff := cmp.Diff([]string{event.TypeTaskCompleted, event.TypeTaskSpawned}, types); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}
