package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/des/internal/setup"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [project-dir]",
	Short: "Create the .des/ directory with a default config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		created, err := setup.Run(appFs, dir, initForce)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range created {
			fmt.Fprintf(out, "created %s\n", p)
		}
		if len(created) == 0 {
			fmt.Fprintln(out, "nothing to do")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "add missing pieces to an existing .des/")
}
