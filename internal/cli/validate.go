package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/msageha/des/internal/model"
	"github.com/msageha/des/internal/prompt"
)

var (
	vpStepFile string
	vpAgent    string
	vpSchema   string
)

var validatePromptCmd = &cobra.Command{
	Use:   "validate-prompt [file|-]",
	Short: "Check a sub-agent prompt before the task starts",
	Long: `Check that a prompt carries every mandatory section and names every TDD
phase of the step's schema. The prompt is read from the file argument, or
from stdin when the argument is "-" or absent.

With --step the schema comes from the step file and the decision is written
to the audit log. Without it, --schema selects the phase list and nothing is
recorded.

Exits with status 2 when the task must not start.

Examples:
  des validate-prompt --step steps/01-01.json prompt.md
  cat prompt.md | des validate-prompt --schema 2.0`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidatePrompt,
}

func init() {
	rootCmd.AddCommand(validatePromptCmd)
	validatePromptCmd.Flags().StringVar(&vpStepFile, "step", "", "step file the prompt is for")
	validatePromptCmd.Flags().StringVar(&vpAgent, "agent", "", "agent name recorded in the audit log")
	validatePromptCmd.Flags().StringVar(&vpSchema, "schema", "", "phase schema version when --step is not given")
}

func runValidatePrompt(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	var result *model.ValidationResult
	if vpStepFile != "" {
		result, err = e.orchestrator(nil).Gate(vpStepFile, vpAgent, text)
		if err != nil {
			return err
		}
	} else {
		version := e.cfg.DefaultSchema()
		if vpSchema != "" {
			version = model.SchemaVersion(vpSchema)
		}
		schema, ok := model.LookupSchema(version)
		if !ok {
			return fmt.Errorf("unknown schema version %q", version)
		}
		result = prompt.NewTemplateValidator(schema, e.cfg.PromptBudget(), e.logger).Validate(text)
	}

	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.TaskInvocationAllowed {
		msg := strings.Join(result.Errors, "\n")
		if result.RecoveryGuidance != nil {
			msg += "\n\n" + *result.RecoveryGuidance
		}
		return blocked(msg)
	}
	return nil
}

// readInput reads the named file, or stdin for "-" or no argument.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := afero.ReadFile(appFs, args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}
