package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msageha/des/internal/recovery"
)

var (
	recoverMode   string
	recoverSets   []string
	recoverDryRun bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover <step-file>",
	Short: "Record recovery guidance for a failed step",
	Long: `Generate the recovery suggestions for a failure mode and store them in the
step file's state.recovery_suggestions. Template placeholders are filled from
--set values; the step file path is filled automatically.

Failure modes: ` + modeList() + `

Examples:
  des recover steps/01-01.json --mode abandoned_phase --set phase=GREEN_UNIT
  des recover steps/01-01.json --mode agent_crash --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().StringVar(&recoverMode, "mode", "", "failure mode")
	recoverCmd.Flags().StringArrayVar(&recoverSets, "set", nil, "template value as key=value (repeatable)")
	recoverCmd.Flags().BoolVar(&recoverDryRun, "dry-run", false, "print suggestions without writing the step file")
	_ = recoverCmd.MarkFlagRequired("mode")
}

func modeList() string {
	names := make([]string, len(recovery.Modes))
	for i, m := range recovery.Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func runRecover(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()
	values, err := parseSets(recoverSets)
	if err != nil {
		return err
	}

	if recoverDryRun {
		if _, ok := values["step_file"]; !ok {
			values["step_file"] = path
		}
		printSuggestions(out, recovery.GenerateRecoverySuggestions(recoverMode, values))
		return nil
	}

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := recovery.NewHandler(e.store, e.audit, e.logger).HandleFailure(path, recoverMode, values)
	if err != nil {
		return err
	}
	printSuggestions(out, st.RecoverySuggestions)
	return nil
}

func parseSets(sets []string) (map[string]string, error) {
	values := make(map[string]string, len(sets))
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want key=value", kv)
		}
		values[k] = v
	}
	return values, nil
}

func printSuggestions(w io.Writer, suggestions []string) {
	for i, s := range suggestions {
		if i > 0 {
			fmt.Fprintln(w, "---")
		}
		fmt.Fprintln(w, s)
	}
}
