package runopts

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{"nil", nil, Options{}},
		{"strips nil and false", Options{"a": nil, "b": false, "c": true, "d": "x"}, Options{"c": true, "d": "x"}},
		{"keeps zero values that are not false", Options{"n": 0, "s": ""}, Options{"n": 0, "s": ""}},
		{"unknown keys pass through", Options{"opt_level": 2}, Options{"opt_level": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Sanitize() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(got, Sanitize(got)); diff != "" {
				t.Errorf("Sanitize is not idempotent (-first +second):\n%s", diff)
			}
		})
	}
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	in := Options{"a": false}
	_ = Sanitize(in)
	if _, ok := in["a"]; !ok {
		t.Error("Sanitize removed a key from its input")
	}
}

func TestSanitizeOr(t *testing.T) {
	got := SanitizeOr(Options{"interpret": false}, FactoryPlaceholder())
	if diff := cmp.Diff(FactoryPlaceholder(), got); diff != "" {
		t.Errorf("placeholder mismatch (-want +got):\n%s", diff)
	}

	got = SanitizeOr(Options{"compile": true}, TaskPlaceholder())
	if diff := cmp.Diff(Options{"compile": true}, got); diff != "" {
		t.Errorf("unexpected substitution (-want +got):\n%s", diff)
	}
}

func TestMode(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		want  Mode
		ok    bool
		count int
	}{
		{"none", Options{"source": "x"}, "", false, 0},
		{"interpret", Options{"interpret": true}, ModeInterpret, true, 1},
		{"compile", Options{"compile": true}, ModeCompile, true, 1},
		{"bytecode", Options{"interpret_bytecode": true}, ModeInterpretBytecode, true, 1},
		{"interpret wins", Options{"compile": true, "interpret": true}, ModeInterpret, true, 2},
		{"compile beats bytecode", Options{"interpret_bytecode": true, "compile": 1}, ModeCompile, true, 2},
		{"false is not selected", Options{"interpret": false, "compile": true}, ModeCompile, true, 1},
		{"int8 zero is not selected", Options{"interpret": int8(0), "compile": true}, ModeCompile, true, 1},
		{"uint8 zero is not selected", Options{"interpret": uint8(0), "compile": true}, ModeCompile, true, 1},
		{"int16 zero is not selected", Options{"interpret": int16(0), "compile": int32(1)}, ModeCompile, true, 1},
		{"float32 zero is not selected", Options{"interpret": float32(0), "interpret_bytecode": true}, ModeInterpretBytecode, true, 1},
		{"empty string is not selected", Options{"interpret": "", "compile": "yes"}, ModeCompile, true, 1},
		{"uint8 one is selected", Options{"interpret": uint8(1)}, ModeInterpret, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.opts.Mode()
			if got != tt.want || ok != tt.ok {
				t.Errorf("Mode() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
			if n := len(tt.opts.Modes()); n != tt.count {
				t.Errorf("len(Modes()) = %d, want %d", n, tt.count)
			}
		})
	}
}

func TestWithMode(t *testing.T) {
	got := Options{"interpret": true, "source": "x"}.WithMode(ModeCompile)
	want := Options{"compile": true, "source": "x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WithMode() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("interpret_bytecode"); err != nil || m != ModeInterpretBytecode {
		t.Errorf("ParseMode() = (%q, %v)", m, err)
	}
	if _, err := ParseMode("jit"); err == nil {
		t.Error("ParseMode(jit) should fail")
	}
}

func TestCheckFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/src/main.kaubo", []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"no file", Options{"source": "x"}, false},
		{"existing", Options{"file": "/src/main.kaubo"}, false},
		{"missing", Options{"file": "/src/nope.kaubo"}, true},
		{"not a string", Options{"file": 42}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFile(fs, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrSourceFileNotFound) {
				t.Errorf("error %v is not ErrSourceFileNotFound", err)
			}
		})
	}
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.kaubo")
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveFile(fs, Options{"file": path, "interpret": true})
	if err != nil {
		t.Fatalf("ResolveFile() error = %v", err)
	}
	if got["file"] != path {
		t.Errorf("file = %v, want %s", got["file"], path)
	}

	if _, err := ResolveFile(fs, Options{"file": filepath.Join(dir, "missing")}); !errors.Is(err, errors.ErrSourceFileNotFound) {
		t.Errorf("ResolveFile(missing) error = %v, want ErrSourceFileNotFound", err)
	}
}

func TestEncode(t *testing.T) {
	got, err := Encode(Options{"source": "a < b && c", "interpret": true, "file": "/tmp/é.kaubo"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `{"file":"/tmp/é.kaubo","interpret":true,"source":"a < b && c"}`
	if string(got) != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}

	if got, _ := Encode(nil); string(got) != "{}" {
		t.Errorf("Encode(nil) = %s, want {}", got)
	}

	if _, err := Encode(Options{"bad": make(chan int)}); !errors.Is(err, errors.ErrConfigSerialization) {
		t.Errorf("Encode(chan) error = %v, want ErrConfigSerialization", err)
	}
}
