package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
	"ilpatch/internal/plan"
	"ilpatch/internal/report"
)

var (
	planFlag  string
	outFlag   string
	watchFlag bool
)

// settleDelay groups the burst of events an editor produces for one save.
const settleDelay = 100 * time.Millisecond

// applyCmd represents the apply command
var applyCmd = &cobra.Command{
	Use:   "apply <assembly>",
	Short: "Apply a patch plan and write the modified assembly",
	Long: `Apply loads the assembly, runs every step of the plan in order and writes
the result next to the input as Modified_<name>, or to --out. Nothing is
written when a step fails.

With --watch the plan and the assembly are watched and the plan is applied
again after every change until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		output := outFlag
		if output == "" {
			output = metadata.OutputPath(input, settings.OutputPrefix)
		}
		if sameFile(input, output) || sameFile(planFlag, output) {
			return ilerrors.WrapInvalidArgument("output %s would overwrite an input", output)
		}

		job := applyJob{input: input, plan: planFlag, output: output}
		printer := report.NewPrinter(cmd.OutOrStdout(), settings.Color)
		if !watchFlag {
			return job.run(cmd.Context(), printer)
		}
		return job.watch(cmd.Context(), printer, cmd.ErrOrStderr())
	},
}

type applyJob struct {
	input  string
	plan   string
	output string
}

func (j applyJob) run(ctx context.Context, printer *report.Printer) error {
	p, err := plan.Load(j.plan)
	if err != nil {
		return err
	}
	m, err := loadModule(ctx, j.input)
	if err != nil {
		return err
	}
	printer.Loaded(m)

	if err := p.Apply(m); err != nil {
		return err
	}
	logger.Debug("plan applied", zap.String("plan", j.plan), zap.Int("steps", len(p.Steps)))

	if err := m.WriteFile(j.output); err != nil {
		return err
	}
	printer.Saved(j.output)
	return nil
}

// watch applies the plan once and then again whenever the plan or the
// assembly changes. Failed runs are reported and watching continues.
func (j applyJob) watch(ctx context.Context, printer *report.Printer, errOut io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ilerrors.WrapIO(err)
	}
	defer watcher.Close()

	// Directories are watched so files replaced by a rename stay observed.
	watched := map[string]bool{}
	for _, path := range []string{j.plan, j.input} {
		abs, err := filepath.Abs(path)
		if err != nil {
			return ilerrors.WrapIO(err)
		}
		watched[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return ilerrors.WrapIO(err)
		}
	}

	runOnce := func() {
		if err := j.run(ctx, printer); err != nil {
			fmt.Fprintf(errOut, "Error modifying assembly: %v\n", err)
		}
	}
	runOnce()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !watched[abs] || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("change detected", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
			settle = time.After(settleDelay)
		case <-settle:
			settle = nil
			runOnce()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func init() {
	applyCmd.Flags().StringVarP(&planFlag, "plan", "p", "", "Patch plan (JSON)")
	applyCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output path (default: Modified_<assembly> next to the input)")
	applyCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Re-apply the plan whenever the plan or the assembly changes")
	_ = applyCmd.MarkFlagRequired("plan")

	rootCmd.AddCommand(applyCmd)
}
