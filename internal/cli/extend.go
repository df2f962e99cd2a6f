package cli

import (
	"github.com/spf13/cobra"
)

var (
	extendReason  string
	extendTurns   int
	extendMinutes int
)

var extendCmd = &cobra.Command{
	Use:   "extend <step-file>",
	Short: "Ask for more turns or minutes on the active phase",
	Long: `Request a budget extension for the step's IN_PROGRESS phase. The request
needs a written justification and is bounded in size and in how often it
may be granted per phase. An approval raises the phase's max_turns and
timeout_minutes in the step file; a denial changes nothing.

Exits with status 2 when the extension is denied.

Examples:
  des extend steps/01-01.json --turns 10 --reason "Fixture setup needs more iterations than planned"`,
	Args: cobra.ExactArgs(1),
	RunE: runExtend,
}

func init() {
	rootCmd.AddCommand(extendCmd)
	extendCmd.Flags().StringVar(&extendReason, "reason", "", "justification for the extension")
	extendCmd.Flags().IntVar(&extendTurns, "turns", 0, "additional turns")
	extendCmd.Flags().IntVar(&extendMinutes, "minutes", 0, "additional minutes")
}

func runExtend(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	var turns, minutes *int
	if cmd.Flags().Changed("turns") {
		turns = &extendTurns
	}
	if cmd.Flags().Changed("minutes") {
		minutes = &extendMinutes
	}
	result, err := e.orchestrator(nil).RequestExtension(args[0], extendReason, turns, minutes)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Approved {
		return blocked(result.Reason)
	}
	return nil
}
