// Package logging provides structured logging for kaubo task runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. The orchestrating process logs through [NewLogger];
// every worker process logs through [NewTaskLogger], so each task run leaves
// one file behind that can be read independently of the others.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer, and closing any
// member of a logger family closes the shared file once.
//
// # Context Propagation
//
//	taskLogger := logger.WithTask("t-42")
//	phaseLogger := taskLogger.WithPhase("configure")
//	phaseLogger.Info("config sent", "bytes", 57)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"config sent","task_id":"t-42","phase":"configure","bytes":57}
//
// # Log Rotation
//
// Worker logs are written through a [RotatingWriter]:
//
//	logger, err := logging.NewTaskLogger(afero.NewOsFs(), "/var/log/kaubo", "t-42",
//	    "INFO", logging.DefaultRotationConfig(), os.Stderr)
//
// Rotated files are named t-42.log.1, t-42.log.2, etc., where .1 is the most
// recent backup, with a .gz suffix when compression is enabled.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] over a
// bytes.Buffer to assert on entries.
//
// # Configuration
//
//	logging:
//	  level: info
//	  dir: ""
//	  max_size_mb: 10
//	  max_backups: 3
package logging
