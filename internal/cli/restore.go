package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/des/internal/clock"
)

var restoreQuarantineDir string

var restoreCmd = &cobra.Command{
	Use:   "restore <step-file>",
	Short: "Restore a corrupted step file from its backup",
	Long: `When the step file no longer decodes, move it to the quarantine directory
and restore the .bak copy kept by the last atomic write. A healthy step file
is left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreQuarantineDir, "quarantine-dir", "", "where corrupted files go (default <audit dir>/../quarantine)")
}

func runRestore(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	dir := restoreQuarantineDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(e.cfg.Audit.LogDir), "quarantine")
	}
	recovered, moved, err := e.store.Recover(args[0], dir, clock.OrSystem(appClock).Now())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !recovered {
		fmt.Fprintf(out, "%s is readable; nothing to restore\n", args[0])
		return nil
	}
	e.logger.Info("step file restored from backup", zap.String("step_file", args[0]), zap.String("quarantined", moved))
	if moved != "" {
		fmt.Fprintf(out, "quarantined %s\n", moved)
	}
	fmt.Fprintf(out, "restored %s from backup\n", args[0])
	return nil
}
