package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/des/internal/events"
)

var (
	auditType string
	auditStep string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the audit log",
}

var auditLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Print the most recent audit entry",
	Long: `Print the most recent audit entry, optionally restricted to one event type
and one step id. Exits with status 1 when nothing matches.

Examples:
  des audit last --type SUBAGENT_STOP_FAILED
  des audit last --step 01-01`,
	Args: cobra.NoArgs,
	RunE: runAuditLast,
}

var auditNoticeCmd = &cobra.Command{
	Use:   "notice <step-id>",
	Short: "Print a reminder when the step's last verdict was a failure",
	Long: `Print a reminder when the most recent stop-hook verdict for the step was a
failure. Prints nothing otherwise. Intended for post-tool-use hooks.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditNotice,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditLastCmd)
	auditCmd.AddCommand(auditNoticeCmd)
	auditLastCmd.Flags().StringVar(&auditType, "type", "", "event type")
	auditLastCmd.Flags().StringVar(&auditStep, "step", "", "step id")
}

func runAuditLast(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ev, ok := e.audit.FindLast(func(ev *events.Event) bool {
		if auditType != "" && ev.Type != auditType {
			return false
		}
		return auditStep == "" || ev.Field("step_id") == auditStep
	})
	if !ok {
		return fmt.Errorf("no matching audit entry in %s", e.audit.Dir())
	}
	line, err := events.Marshal(*ev)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(line))
	return nil
}

func runAuditNotice(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if msg, ok := e.orchestrator(nil).PostToolUseNotice(args[0]); ok {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
	}
	return nil
}
