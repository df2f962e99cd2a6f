package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/des/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Report step-file verdicts as they change",
	Long: `Watch directories of step files and print the post-execution verdict
each time a step file is created or written. Files are only read; use
stop-hook to record a verdict.

Stops on SIGINT or SIGTERM.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	w, err := watch.New(args, e.logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := e.orchestrator(nil).Hook()
	out := cmd.OutOrStdout()
	e.logger.Info("watching step files", zap.Strings("dirs", args))
	return w.Run(ctx, func(path string) {
		result, err := h.Inspect(path)
		if err != nil {
			e.logger.Warn("inspect failed", zap.String("step_file", path), zap.Error(err))
			return
		}
		if result.Passed() {
			fmt.Fprintf(out, "%s\tPASSED\n", path)
			return
		}
		fmt.Fprintf(out, "%s\tFAILED\t%s\t%s\n", path, result.ErrorType, result.ErrorMessage)
	})
}
