// Package cli builds the jobqueue command tree: serve, version, config show
// and healthcheck.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/version"
)

// HandlerRegistrar binds job handlers to the manager before the dispatch loop starts.
type HandlerRegistrar func(cfg *config.Config, log logger.Logger, manager *jobs.Manager) error

// Options customise the command tree.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// RegisterHandlers is required by serve.
	RegisterHandlers HandlerRegistrar

	// Out receives command output; defaults to stdout.
	Out io.Writer
}

// NewRootCommand creates the root command. Running it without a subcommand serves.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "jobqueue"
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(opts.Out)

	var cfgPath, envPrefix string
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	flags.StringVar(&envPrefix, "env-prefix", opts.EnvPrefix, "prefix of environment variable overrides")
	registerConfigFlags(flags)

	loader := func(cmd *cobra.Command) *config.ViperLoader {
		return config.NewViperLoader(cfgPath, envPrefix).WithFlags(cmd.Flags())
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job API, the management server and the dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := LoadConfigAndLogger(loader(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return Serve(cmd.Context(), cfg, log, opts.RegisterHandlers)
		},
	}
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			return nil
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loader(cmd).Load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader(cmd).Load()
			if err != nil {
				return err
			}
			formatted, err := formatConfig(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)

	var healthTimeout time.Duration
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the readiness endpoint of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader(cmd).Load()
			if err != nil {
				return err
			}
			url := fmt.Sprintf("http://127.0.0.1:%d/ready", cfg.Management.Port)
			return checkReady(cmd.Context(), url, healthTimeout, cmd.OutOrStdout())
		},
	}
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "request timeout")
	rootCmd.AddCommand(healthCmd)

	return rootCmd
}

// registerConfigFlags declares the flags the config loader binds to keys.
// Unset flags never override file or environment values.
func registerConfigFlags(flags *pflag.FlagSet) {
	flags.Int("http-port", 0, "public API port")
	flags.Int("mgmt-port", 0, "management server port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")
	flags.Int("concurrency", 0, "number of dispatch workers")
	flags.StringSlice("job-types", nil, "allowed job types")
}

// LoadConfigAndLogger loads configuration and builds the zap logger it describes.
func LoadConfigAndLogger(loader *config.ViperLoader) (*config.Config, *logger.ZapLogger, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Log.Level),
		Format: logger.LogFormat(cfg.Log.Format),
		Fields: map[string]string{
			"service":     cfg.Service.Name,
			"environment": cfg.Service.Environment,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	if strings.EqualFold(cfg.Log.Level, string(logger.DebugLevel)) {
		if file := loader.ConfigFile(); file != "" {
			log.Debug("configuration loaded", "file", file)
		}
		log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg))
	}
	return cfg, log, nil
}

func formatConfig(cfg *config.Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

func checkReady(ctx context.Context, url string, timeout time.Duration, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service not ready: http %d, status %q", resp.StatusCode, body.Status)
	}
	fmt.Fprintf(out, "ready (%s)\n", body.Status)
	return nil
}

// Execute runs the command with SIGINT/SIGTERM cancelling its context and
// exits non-zero on error.
func Execute(cmd *cobra.Command) {
	ctx, stop := signalContext()
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
