package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/kaubo/internal/factory"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch <manifest.yaml>",
	Short: "Run a suite of tasks described by a manifest",
	Long: `Run every task of a YAML manifest, each in its own worker process.

Tasks run stage by stage; tasks of one stage run in parallel. With 'gated: true'
the workers of a stage load and configure first and are then released together,
so their timings are comparable. When a task names an expected file, its output
file must match it byte for byte.

A summary with per-task and total durations is printed at the end. The command
fails if any task failed, timed out or produced unexpected output.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var batchJSON bool

func init() {
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "Output the summary as JSON")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	m, err := LoadManifest(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	f, logger, err := newFactory(cfg, out, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	b := &batch{factory: f, fs: afero.NewOsFs(), manifest: m, timeout: m.Timeout}
	if b.timeout == 0 {
		b.timeout = cfg.Task.JoinTimeout
	}
	summary, err := b.run(cmd.Context())
	if err != nil {
		return err
	}

	if batchJSON {
		err = writeSummaryJSON(out, summary)
	} else {
		err = writeSummaryTable(out, summary)
	}
	if err != nil {
		return err
	}
	if n := summary.Failed(); n > 0 {
		return fmt.Errorf("%d of %d tasks failed", n, len(summary.Tasks))
	}
	return nil
}

// batch runs one manifest on a factory. Output and expected files are
// handled through fs; workers write outputs on the real filesystem.
type batch struct {
	factory  *factory.Factory
	fs       afero.Fs
	manifest *Manifest
	timeout  time.Duration
}

// run registers the manifest's configs and runs its stages in order. Only
// configs that cannot be registered fail the whole batch; task failures are
// recorded in the summary.
func (b *batch) run(ctx context.Context) (*Summary, error) {
	for _, id := range b.manifest.ConfigIDs() {
		if err := b.factory.RegisterConfig(id, b.manifest.Configs[id], false); err != nil {
			return nil, err
		}
	}

	summary := &Summary{}
	for _, stage := range b.manifest.Stages() {
		if ctx.Err() != nil {
			break
		}
		summary.Tasks = append(summary.Tasks, b.runStage(ctx, stage)...)
	}
	summary.TotalSeconds = b.factory.TotalDuration()
	return summary, nil
}

func (b *batch) runStage(ctx context.Context, stage []TaskSpec) []TaskSummary {
	tasks := make([]TaskSummary, len(stage))
	index := make(map[string]int, len(stage))
	spawned := 0

	for i, t := range stage {
		tasks[i] = TaskSummary{ID: t.ID, Config: t.Config, Stage: t.Stage, ExitCode: -1}
		index[t.ID] = i
		if err := truncate(b.fs, t.Output); err != nil {
			tasks[i].fail(StatusFailed, err.Error())
			continue
		}
		_, err := b.factory.SpawnTask(ctx, t.ID, t.Config, factory.SpawnOptions{
			Callbacks:   t.Callbacks,
			LibraryDirs: b.manifest.LibDirs,
			Gated:       b.manifest.Gated,
		})
		if err != nil {
			tasks[i].fail(StatusFailed, err.Error())
			continue
		}
		spawned++
	}
	if spawned == 0 {
		return tasks
	}
	if b.manifest.Gated {
		// Workers that died before the release are reported by the join.
		_ = b.factory.ReleaseGate()
	}

	for _, res := range joinAll(ctx, b.factory, b.timeout) {
		i, ok := index[res.TaskID]
		if !ok {
			continue
		}
		s := &tasks[i]
		s.ExitCode = res.ExitCode
		s.Seconds, _ = b.factory.Duration(res.TaskID)
		switch {
		case res.TimedOut:
			s.fail(StatusTimeout, fmt.Sprintf("terminated after %s", b.timeout))
		case res.Terminated:
			s.fail(StatusFailed, "terminated")
		case res.Error != "":
			s.fail(StatusFailed, res.Error)
		case res.ExitCode != 0:
			s.fail(StatusFailed, fmt.Sprintf("worker exited with code %d", res.ExitCode))
		default:
			s.Status = StatusOK
			if t := stage[i]; t.Expected != "" {
				if err := compareOutput(b.fs, t.Output, t.Expected); err != nil {
					s.fail(StatusMismatch, err.Error())
				}
			}
		}
	}
	return tasks
}

// truncate empties path, creating it and its directory if needed.
func truncate(fs afero.Fs, path string) error {
	if path == "" {
		return nil
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, nil, 0o644); err != nil {
		return fmt.Errorf("failed to reset output: %w", err)
	}
	return nil
}

// compareOutput reports whether output matches expected, ignoring CRLF
// line endings.
func compareOutput(fs afero.Fs, output, expected string) error {
	got, err := afero.ReadFile(fs, output)
	if err != nil {
		return fmt.Errorf("failed to read output: %w", err)
	}
	want, err := afero.ReadFile(fs, expected)
	if err != nil {
		return fmt.Errorf("failed to read expected output: %w", err)
	}
	if !bytes.Equal(normalizeNewlines(got), normalizeNewlines(want)) {
		return fmt.Errorf("output differs from %s", filepath.Base(expected))
	}
	return nil
}

func normalizeNewlines(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}
