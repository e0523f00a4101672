// Package runopts holds the run configuration handed to the native library:
// sanitizing, execution-mode selection, source-file resolution and the
// canonical JSON document passed to init_config.
package runopts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

// Recognized configuration keys. Unknown keys pass through to the native layer.
const (
	KeyFile              = "file"
	KeySource            = "source"
	KeyInterpret         = "interpret"
	KeyCompile           = "compile"
	KeyInterpretBytecode = "interpret_bytecode"
	KeyShowResult        = "show_result"
)

// Mode is an execution mode of the native library.
type Mode string

// Execution modes, in dispatch priority order.
const (
	ModeInterpret         Mode = KeyInterpret
	ModeCompile           Mode = KeyCompile
	ModeInterpretBytecode Mode = KeyInterpretBytecode
)

// Modes returns every execution mode in dispatch priority order.
func Modes() []Mode {
	return []Mode{ModeInterpret, ModeCompile, ModeInterpretBytecode}
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (want interpret, compile or interpret_bytecode)", s)
}

// Options is a flat run configuration.
type Options map[string]any

// TaskPlaceholder is substituted by the configure phase when sanitizing
// leaves nothing.
func TaskPlaceholder() Options {
	return Options{KeySource: "hello world", KeyInterpret: true}
}

// FactoryPlaceholder is substituted when a config registered with the
// factory sanitizes to nothing.
func FactoryPlaceholder() Options {
	return Options{KeySource: "print('Hello from factory-managed task!')", KeyInterpret: true}
}

// Sanitize returns a copy of o without nil and false entries. It never
// returns nil and Sanitize(Sanitize(o)) equals Sanitize(o).
func Sanitize(o Options) Options {
	out := make(Options, len(o))
	for k, v := range o {
		if v == nil {
			continue
		}
		if b, ok := v.(bool); ok && !b {
			continue
		}
		out[k] = v
	}
	return out
}

// SanitizeOr sanitizes o and substitutes placeholder when nothing remains.
func SanitizeOr(o Options, placeholder Options) Options {
	out := Sanitize(o)
	if len(out) == 0 {
		return placeholder.Clone()
	}
	return out
}

// Clone returns a shallow copy.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bool reports whether key holds a truthy value.
func (o Options) Bool(key string) bool {
	return truthy(o[key])
}

// String returns the value of key if it is a non-empty string.
func (o Options) String(key string) (string, bool) {
	s, ok := o[key].(string)
	return s, ok && s != ""
}

// Modes returns the truthy execution modes in dispatch priority order.
func (o Options) Modes() []Mode {
	var modes []Mode
	for _, m := range Modes() {
		if o.Bool(string(m)) {
			modes = append(modes, m)
		}
	}
	return modes
}

// Mode returns the highest-priority truthy execution mode.
func (o Options) Mode() (Mode, bool) {
	modes := o.Modes()
	if len(modes) == 0 {
		return "", false
	}
	return modes[0], true
}

// WithMode returns a copy with exactly one execution mode set.
func (o Options) WithMode(m Mode) Options {
	out := o.Clone()
	for _, other := range Modes() {
		delete(out, string(other))
	}
	out[string(m)] = true
	return out
}

// truthy treats nil, false, "" and numeric zero of any width as false.
// Decoders hand back whatever integer width fits, so 0 may arrive as int8.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	default:
		return true
	}
}

// CheckFile verifies that a configured source file exists on fs. A missing
// "file" key is not an error.
func CheckFile(fs afero.Fs, o Options) error {
	raw, present := o[KeyFile]
	if !present || !truthy(raw) {
		return nil
	}
	path, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%w: file option must be a string, got %T", errors.ErrSourceFileNotFound, raw)
	}
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errors.ErrSourceFileNotFound, path, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", errors.ErrSourceFileNotFound, path)
	}
	return nil
}

// ResolveFile returns a copy of o whose "file" entry is absolute, after
// checking that it exists on fs.
func ResolveFile(fs afero.Fs, o Options) (Options, error) {
	path, ok := o.String(KeyFile)
	if !ok {
		return o, CheckFile(fs, o)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrSourceFileNotFound, path, err)
	}
	out := o.Clone()
	out[KeyFile] = abs
	if err := CheckFile(fs, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode renders o as the canonical document passed to init_config: a JSON
// object with sorted keys, UTF-8 text and no HTML escaping.
func Encode(o Options) ([]byte, error) {
	if o == nil {
		o = Options{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(o)); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrConfigSerialization, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
