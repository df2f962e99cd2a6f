// Package cli implements the des command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/des/internal/clock"
	"github.com/msageha/des/internal/config"
	"github.com/msageha/des/internal/events"
	"github.com/msageha/des/internal/logging"
	"github.com/msageha/des/internal/orchestrator"
	"github.com/msageha/des/internal/stepfile"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ExitBlocked is the exit code for a refused prompt, a failed step or a
// denied extension.
const ExitBlocked = 2

// ExitError asks main to exit with Code after printing Msg to stderr.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Msg
}

func blocked(msg string) error {
	return &ExitError{Code: ExitBlocked, Msg: msg}
}

var (
	configPath string
	auditDir   string
	logLevel   string
)

// Overridden in tests.
var (
	appFs    afero.Fs = afero.NewOsFs()
	appClock clock.Clock
)

var rootCmd = &cobra.Command{
	Use:   "des",
	Short: "Deterministic execution checks for sub-agent TDD steps",
	Long: `des validates sub-agent prompts before a task starts, audits step files
after the sub-agent returns, grants bounded budget extensions and keeps an
append-only audit trail of every decision.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("des version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&auditDir, "audit-dir", "", "audit log directory (overrides audit.log_dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "diagnostic log level (overrides logging.level)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// env holds the components shared by commands.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *stepfile.Store
	audit  *events.AuditLogger
}

func newEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(appFs, configPath)
	if err != nil {
		return nil, err
	}
	if auditDir != "" {
		cfg.Audit.LogDir = auditDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		store:  stepfile.NewStore(appFs),
		audit:  events.NewAuditLogger(appFs, cfg.Audit.LogDir, appClock, logger),
	}, nil
}

func (e *env) orchestrator(invoker orchestrator.Invoker) *orchestrator.Orchestrator {
	return orchestrator.New(e.store, e.audit, invoker, e.cfg, appClock, e.logger)
}

func (e *env) Close() {
	if err := e.audit.Close(); err != nil {
		e.logger.Warn("close audit log", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
