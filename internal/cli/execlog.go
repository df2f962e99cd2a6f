package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/des/internal/execlog"
	"github.com/msageha/des/internal/model"
)

var (
	importStepID string
	importOut    string
	importSchema string
	importStrict bool
)

var execlogCmd = &cobra.Command{
	Use:   "execlog",
	Short: "Work with YAML execution logs",
}

var execlogImportCmd = &cobra.Command{
	Use:   "import <log.yaml>",
	Short: "Fold an execution log into a step file's phase log",
	Long: `Read a YAML execution log of step_id|phase|status|outcome|timestamp
records and merge the history of --step-id into the --out step file. The
last event per phase sets that phase's status and outcome; every other field
of the entry is kept. Phases missing from the step file are added, as
NOT_EXECUTED when they have no events. The file is created when missing.

Malformed records are reported on stderr and skipped, or rejected with
--strict. Status changes that break the phase lifecycle (for example
EXECUTED back to IN_PROGRESS) are reported as warnings and still applied.

Examples:
  des execlog import execution.yaml --step-id 01-01 --out steps/01-01.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExeclogImport,
}

func init() {
	rootCmd.AddCommand(execlogCmd)
	execlogCmd.AddCommand(execlogImportCmd)
	execlogImportCmd.Flags().StringVar(&importStepID, "step-id", "", "step whose events are imported")
	execlogImportCmd.Flags().StringVar(&importOut, "out", "", "step file to update")
	execlogImportCmd.Flags().StringVar(&importSchema, "schema", "", "phase schema for a new step file (default schema.default_version)")
	execlogImportCmd.Flags().BoolVar(&importStrict, "strict", false, "fail on malformed records")
	_ = execlogImportCmd.MarkFlagRequired("step-id")
	_ = execlogImportCmd.MarkFlagRequired("out")
}

func runExeclogImport(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	data, err := afero.ReadFile(appFs, args[0])
	if err != nil {
		return fmt.Errorf("read execution log: %w", err)
	}
	parse := execlog.Parse
	if importStrict {
		parse = execlog.ParseStrict
	}
	log, err := parse(data)
	if err != nil {
		var re *execlog.RecordErrors
		if errors.As(err, &re) {
			re.Report(cmd.ErrOrStderr(), "error")
			return fmt.Errorf("%d malformed record(s) in %s", len(*re), args[0])
		}
		return err
	}
	if log.Skipped.HasErrors() {
		log.Skipped.Report(cmd.ErrOrStderr(), "skipped")
		e.logger.Warn("skipped malformed execution log records",
			zap.String("file", args[0]),
			zap.Int("count", len(log.Skipped)))
	}
	log.OutOfOrder.Report(cmd.ErrOrStderr(), "warning")

	version := e.cfg.DefaultSchema()
	if importSchema != "" {
		version = model.SchemaVersion(importSchema)
	}

	var sf *model.StepFile
	if e.store.Exists(importOut) {
		sf, err = e.store.Update(importOut, func(sf *model.StepFile) error {
			schema, _ := model.SchemaFor(sf, version)
			log.ApplyTo(sf, importStepID, schema)
			return nil
		})
	} else {
		schema, ok := model.LookupSchema(version)
		if !ok {
			return fmt.Errorf("unknown schema version %q", version)
		}
		sf = &model.StepFile{}
		log.ApplyTo(sf, importStepID, schema)
		err = e.store.Save(importOut, sf)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d phases for %s into %s\n",
		len(sf.TDDCycle.PhaseExecutionLog), importStepID, importOut)
	return nil
}
