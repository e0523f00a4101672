//go:build !windows

package worker

func normalizeConsole() error { return nil }
