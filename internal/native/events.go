package native

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

// EventKind is the native event-bus event type. Values match the library's
// EventType enumeration.
type EventKind uint32

const (
	LogInfo EventKind = iota
	LogWarning
	LogError
	LogDebug
	ExitProgram
	Input
)

var eventKindNames = [...]string{
	LogInfo:     "LOG_INFO",
	LogWarning:  "LOG_WARNING",
	LogError:    "LOG_ERROR",
	LogDebug:    "LOG_DEBUG",
	ExitProgram: "EXIT_PROGRAM",
	Input:       "INPUT",
}

// EventKinds returns the closed set of event kinds in enum order.
func EventKinds() []EventKind {
	return []EventKind{LogInfo, LogWarning, LogError, LogDebug, ExitProgram, Input}
}

// String returns the native name, e.g. "LOG_INFO".
func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", uint32(k))
}

// Valid reports whether k belongs to the closed enumeration.
func (k EventKind) Valid() bool {
	return int(k) < len(eventKindNames)
}

// ParseEventKind maps a native name (case-insensitive) to its EventKind.
func ParseEventKind(name string) (EventKind, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range eventKindNames {
		if n == upper {
			return EventKind(i), nil
		}
	}
	return 0, errors.NewBridgeError("parse event kind", errors.ErrInvalidEventKind).WithEventKind(name)
}
