package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/msageha/des/internal/watch"
)

var (
	checkJobs int
	checkJSON bool
)

var checkCmd = &cobra.Command{
	Use:   "check <step-file|dir>...",
	Short: "Inspect step files without changing them",
	Long: `Run the post-execution checks on step files and print a summary. Nothing
is written: neither the step files nor the audit log. Directories are
expanded to the *.json files they contain.

Exits with status 2 when any step fails validation.

Examples:
  des check steps/
  des check --json steps/01-01.json steps/01-02.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().IntVarP(&checkJobs, "jobs", "j", runtime.NumCPU(), "files inspected in parallel")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print results as JSON")
}

type checkRow struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	paths, err := expandStepFiles(appFs, args)
	if err != nil {
		return err
	}
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	inspections, err := e.orchestrator(nil).Hook().InspectAll(ctx, paths, checkJobs)
	if err != nil {
		return err
	}

	var failed, broken int
	rows := make([]checkRow, 0, len(inspections))
	for _, in := range inspections {
		row := checkRow{Path: in.Path}
		switch {
		case in.Err != nil:
			broken++
			row.Status = "ERROR"
			row.Error = in.Err.Error()
		case in.Result.Passed():
			row.Status = "PASSED"
			row.Result = in.Result
		default:
			failed++
			row.Status = "FAILED"
			row.Error = string(in.Result.ErrorType)
			row.Result = in.Result
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		if err := writeJSON(out, rows); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP FILE\tSTATUS\tDETAIL")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Path, r.Status, r.Error)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	switch {
	case failed > 0:
		return blocked(fmt.Sprintf("%d of %d step files failed validation", failed, len(rows)))
	case broken > 0:
		return fmt.Errorf("%d of %d step files could not be read", broken, len(rows))
	}
	return nil
}

// expandStepFiles replaces directories with the step files they contain.
func expandStepFiles(fs afero.Fs, args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := fs.Stat(arg)
		if err != nil {
			if errors.Is(err, afero.ErrFileNotFound) {
				paths = append(paths, arg)
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := afero.ReadDir(fs, arg)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", arg, err)
		}
		for _, entry := range entries {
			p := filepath.Join(arg, entry.Name())
			if !entry.IsDir() && watch.IsStepFile(p) {
				paths = append(paths, p)
			}
		}
	}
	return paths, nil
}
