// Package cli implements the agentstate command line on top of the state
// store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/agentos-labs/agentstate/internal/config"
	internalevents "github.com/agentos-labs/agentstate/internal/events"
	"github.com/agentos-labs/agentstate/internal/logger"
	"github.com/agentos-labs/agentstate/internal/metrics"
	"github.com/agentos-labs/agentstate/internal/state"
	"github.com/agentos-labs/agentstate/internal/tracing"
	asv1 "github.com/agentos-labs/agentstate/pkg/agentstate/v1"
	aslog "github.com/agentos-labs/agentstate/pkg/agentstate/v1/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

const (
	// DefaultEventBusSize bounds the events buffered between the store and
	// the metrics listener.
	DefaultEventBusSize = 256

	shutdownTimeout = 5 * time.Second
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// ExitError carries a process exit code through cobra, for commands such as
// "lock run" that propagate a child's status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// app holds the global flags and the collaborators opened for one command.
type app struct {
	info BuildInfo

	baseDir    string
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
	metrics    bool

	cfg          *config.Config
	log          aslog.Logger
	store        *state.FileStateStore
	tracer       *tracing.OtelTracerProvider
	bus          *internalevents.ChannelEventBus
	registry     *prometheus.Registry
	listenerDone chan struct{}
	cancel       context.CancelFunc
	p            printer
}

// nameRe restricts state names to a single path element.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

func validateName(name string) error {
	if !nameRe.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid state name '%s' (allowed: letters, digits, '_', '-', '.')", name)
	}
	return nil
}

// NewRootCommand builds the agentstate command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	if info.Version == "" {
		info.Version = "dev"
	}
	a := &app{info: info}

	rootCmd := &cobra.Command{
		Use:     "agentstate",
		Version: info.Version,
		Short:   "Durable local state for agent workflows",
		Long: `agentstate keeps workflow and cache documents as JSON files under a
local state directory.

Writes are atomic and snapshotted into recovery/, reads fall back to the
newest valid snapshot when a file is corrupt, and a file-based lock
coordinates concurrent processes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetHelpFunc(customHelpFunc)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.baseDir, "base-dir", config.DefaultBaseDir, "Base directory holding state/ (env "+config.EnvBaseDir+")")
	flags.StringVar(&a.configPath, "config", "", "Path to a config file (default <base-dir>/"+config.FileName+")")
	flags.StringVar(&a.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", config.DefaultLogFormat, "Log format (text, json)")
	flags.BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVar(&a.metrics, "metrics", false, "Print store metrics to stderr after the command")

	rootCmd.AddGroup(
		&cobra.Group{ID: "state", Title: "State Documents:"},
		&cobra.Group{ID: "coordination", Title: "Coordination:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance:"},
		&cobra.Group{ID: "cli-tooling", Title: "CLI & Tooling:"},
	)

	rootCmd.AddCommand(
		newInitCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newPutCmd(a),
		newCacheCmd(a),
		newLockCmd(a),
		newBackupsCmd(a),
		newVersionCmd(a),
	)

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:     "help [command]",
		Short:   "Help about any command",
		GroupID: "cli-tooling",
		Run: func(cmd *cobra.Command, args []string) {
			target, _, err := cmd.Root().Find(args)
			if err != nil || target == nil {
				target = cmd.Root()
			}
			_ = target.Help()
		},
	})
	return rootCmd
}

// withStore opens the store before fn and tears everything down after it.
func (a *app) withStore(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := a.open(cmd)
		defer a.close(cmd)
		if err != nil {
			return err
		}
		return fn(cmd, args)
	}
}

// open resolves configuration with the precedence flag > env > file > default
// and wires the store with logging, tracing and metrics.
func (a *app) open(cmd *cobra.Command) error {
	a.p = printer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
	flags := cmd.Flags()

	lookupDir := a.baseDir
	if !flags.Changed("base-dir") {
		if v := strings.TrimSpace(os.Getenv(config.EnvBaseDir)); v != "" {
			lookupDir = v
		}
	}
	cfg, err := config.Resolve(a.configPath, lookupDir)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if flags.Changed("base-dir") {
		cfg.BaseDir = a.baseDir
	}
	if flags.Changed("log-level") || flags.Changed("log-format") {
		if cfg.Log == nil {
			cfg.Log = &config.LogConfig{}
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = a.logLevel
		}
		if flags.Changed("log-format") {
			cfg.Log.Format = a.logFormat
		}
	}
	a.cfg = cfg

	a.log = logger.NewLogger(cfg.GetLogLevel(), cfg.GetLogFormat(), cmd.ErrOrStderr())
	if cfg.FilePath != "" {
		a.log.Debugf("Loaded config from %s", cfg.FilePath)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	a.cancel = cancel
	cmd.SetContext(ctx)

	a.tracer = tracing.NewProviderFromEnv(ctx, a.log)

	a.bus = internalevents.NewChannelEventBus(DefaultEventBusSize, a.log)
	a.registry = metrics.NewPrometheusRegistryProvider().Registry()
	collectors, err := metrics.NewStoreCollectors(a.registry)
	if err != nil {
		return fmt.Errorf("registering store metrics: %w", err)
	}
	listener := internalevents.NewMetricsEventListener(a.bus, collectors, a.log)
	a.listenerDone = make(chan struct{})
	go func() {
		defer close(a.listenerDone)
		listener.Start(ctx)
	}()

	opts := append(cfg.ToStoreOptions(),
		asv1.WithLogger(a.log),
		asv1.WithEventBus(a.bus),
		asv1.WithTracerProvider(a.tracer),
	)
	a.store, err = state.NewFileStateStore(cfg.GetBaseDir(), opts...)
	if err != nil {
		return err
	}
	return nil
}

// close drains the event bus, prints metrics when asked and flushes spans.
func (a *app) close(cmd *cobra.Command) {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.listenerDone != nil {
		<-a.listenerDone
	}
	if a.metrics && a.registry != nil {
		if err := writeMetrics(cmd.ErrOrStderr(), a.registry); err != nil {
			a.log.Warnf("Failed to write metrics: %v", err)
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.tracer.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warnf("Error during tracer provider shutdown: %v", err)
		}
		cancel()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Print the agentstate version",
		Args:    cobra.NoArgs,
		GroupID: "cli-tooling",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
			if a.jsonOutput {
				return p.JSON(map[string]string{
					"version":    a.info.Version,
					"commit":     a.info.Commit,
					"built":      a.info.BuildDate,
					"go_version": runtime.Version(),
					"os_arch":    runtime.GOOS + "/" + runtime.GOARCH,
				})
			}
			p.Info(fmt.Sprintf("agentstate version %s", a.info.Version))
			p.Info(fmt.Sprintf("commit: %s", a.info.Commit))
			p.Info(fmt.Sprintf("built: %s", a.info.BuildDate))
			p.Info(fmt.Sprintf("go version: %s", runtime.Version()))
			p.Info(fmt.Sprintf("os/arch: %s/%s", runtime.GOOS, runtime.GOARCH))
			return nil
		},
	}
}

// customHelpFunc prints help with colored group titles.
func customHelpFunc(cmd *cobra.Command, args []string) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	} else if cmd.Short != "" {
		help.WriteString(cmd.Short)
		help.WriteString("\n\n")
	}

	help.WriteString(sectionTitleColor.Sprint("Usage:"))
	help.WriteString("\n")
	fmt.Fprintf(&help, "  %s\n\n", cmd.UseLine())

	for _, group := range cmd.Groups() {
		help.WriteString(groupTitleColor.Sprint(group.Title))
		help.WriteString("\n")
		for _, c := range cmd.Commands() {
			if c.GroupID == group.ID && !c.Hidden {
				fmt.Fprintf(&help, "  %-11s %s\n", c.Name(), c.Short)
			}
		}
		help.WriteString("\n")
	}

	hasUngrouped := false
	for _, c := range cmd.Commands() {
		if c.GroupID == "" && !c.Hidden && c.IsAvailableCommand() {
			if !hasUngrouped {
				help.WriteString(sectionTitleColor.Sprint("Commands:"))
				help.WriteString("\n")
				hasUngrouped = true
			}
			fmt.Fprintf(&help, "  %-11s %s\n", c.Name(), c.Short)
		}
	}
	if hasUngrouped {
		help.WriteString("\n")
	}

	if cmd.HasAvailableLocalFlags() || cmd.HasAvailableInheritedFlags() {
		help.WriteString(sectionTitleColor.Sprint("Flags:"))
		help.WriteString("\n")
		help.WriteString(cmd.LocalFlags().FlagUsages())
		help.WriteString(cmd.InheritedFlags().FlagUsages())
		help.WriteString("\n")
	}

	fmt.Fprintf(&help, "Use \"%s [command] --help\" for more information about a command.\n", cmd.CommandPath())
	fmt.Fprint(cmd.OutOrStdout(), help.String())
}
