package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// EnvStepFile names the step file when the hook runner cannot pass arguments.
const EnvStepFile = "DES_STEP_FILE"

var stopHookCmd = &cobra.Command{
	Use:   "stop-hook [step-file]",
	Short: "Audit a step file after the sub-agent returned",
	Long: `Run every post-execution check on the step file. A failing file is marked
FAILED with the combined error message and recovery suggestions; a passing
file is left as it is. The verdict is printed as JSON and written to the
audit log.

The step file defaults to $DES_STEP_FILE. Exits with status 2 when the step
failed validation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStopHook,
}

func init() {
	rootCmd.AddCommand(stopHookCmd)
}

func runStopHook(cmd *cobra.Command, args []string) error {
	path := os.Getenv(EnvStepFile)
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no step file: pass it as an argument or set " + EnvStepFile)
	}
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.orchestrator(nil).Hook().OnAgentComplete(path)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Passed() {
		return blocked(fmt.Sprintf("%s: %s", result.ErrorType, result.ErrorMessage))
	}
	return nil
}
