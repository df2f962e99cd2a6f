package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/des/internal/orchestrator"
)

var (
	invokePromptFile string
	invokeAgent      string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <step-file> --prompt-file <file> -- <command> [args...]",
	Short: "Run a sub-agent command between both DES gates",
	Long: `Validate the prompt, run the command with the prompt on stdin when the
prompt is accepted, then audit the step file. The command sees the step
through DES_STEP_FILE, DES_STEP_ID and DES_AGENT.

Exits with status 2 when the prompt is rejected or the step fails
validation.

Examples:
  des invoke steps/01-01.json --prompt-file prompt.md --agent crafter -- claude -p`,
	Args: cobra.MinimumNArgs(2),
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)
	invokeCmd.Flags().StringVar(&invokePromptFile, "prompt-file", "-", "prompt file, or - for stdin")
	invokeCmd.Flags().StringVar(&invokeAgent, "agent", "", "agent name recorded in the audit log")
}

type invokeReport struct {
	Validation any    `json:"validation"`
	Invoked    bool   `json:"invoked"`
	InvokeErr  string `json:"invoke_error,omitempty"`
	Hook       any    `json:"hook,omitempty"`
}

func runInvoke(cmd *cobra.Command, args []string) error {
	if dash := cmd.ArgsLenAtDash(); dash != 1 || len(args) <= dash {
		return errors.New("usage: des invoke <step-file> [flags] -- <command> [args...]")
	}
	text, err := readInput(cmd, []string{invokePromptFile})
	if err != nil {
		return err
	}
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	invoker := &orchestrator.CommandInvoker{Path: args[1], Args: args[2:], Stdout: cmd.ErrOrStderr()}
	outcome, err := e.orchestrator(invoker).Invoke(commandContext(cmd), orchestrator.Invocation{
		StepFile: args[0],
		Prompt:   text,
		Agent:    invokeAgent,
	})
	if err != nil {
		return err
	}

	report := invokeReport{Validation: outcome.Validation, Invoked: outcome.Invoked}
	if outcome.InvokeErr != nil {
		report.InvokeErr = outcome.InvokeErr.Error()
	}
	if outcome.Hook != nil {
		report.Hook = outcome.Hook
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	switch {
	case !outcome.Validation.TaskInvocationAllowed:
		return blocked(fmt.Sprintf("prompt rejected: %d problem(s)", len(outcome.Validation.Errors)))
	case outcome.Blocked():
		return blocked(fmt.Sprintf("%s: %s", outcome.Hook.ErrorType, outcome.Hook.ErrorMessage))
	}
	return nil
}
