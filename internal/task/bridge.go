package task

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/runopts"
)

// Bridge is the operation set a task needs from the native library.
// *native.Bridge satisfies it.
type Bridge interface {
	SubscribeEvent(kind string, cb func(string)) (uint32, error)
	UnsubscribeEvent(id uint32) error
	InitWithConfig(opts runopts.Options) error
	Compile() error
	Interpret() error
}

// BytecodeInterpreter is implemented by bridges that can run bytecode.
type BytecodeInterpreter interface {
	InterpretBytecode() error
}

// AsBridge checks that v provides every Bridge operation. The error names
// each missing one.
func AsBridge(v any) (Bridge, error) {
	if v == nil {
		return nil, errors.NewTaskError("bridge is nil", errors.ErrIncompatibleBridge).WithPhase(PhaseBind)
	}
	if b, ok := v.(Bridge); ok {
		return b, nil
	}

	var missing []string
	if _, ok := v.(interface {
		SubscribeEvent(string, func(string)) (uint32, error)
	}); !ok {
		missing = append(missing, "SubscribeEvent")
	}
	if _, ok := v.(interface{ UnsubscribeEvent(uint32) error }); !ok {
		missing = append(missing, "UnsubscribeEvent")
	}
	if _, ok := v.(interface {
		InitWithConfig(runopts.Options) error
	}); !ok {
		missing = append(missing, "InitWithConfig")
	}
	if _, ok := v.(interface{ Compile() error }); !ok {
		missing = append(missing, "Compile")
	}
	if _, ok := v.(interface{ Interpret() error }); !ok {
		missing = append(missing, "Interpret")
	}
	msg := fmt.Sprintf("%T is missing %s", v, strings.Join(missing, ", "))
	return nil, errors.NewTaskError(msg, errors.ErrIncompatibleBridge).WithPhase(PhaseBind)
}
