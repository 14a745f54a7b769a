package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pepperpark/mailcache/internal/config"
	"github.com/pepperpark/mailcache/internal/imapwire"
	"github.com/pepperpark/mailcache/internal/logging"
	"github.com/pepperpark/mailcache/internal/state"
	"github.com/pepperpark/mailcache/internal/syncer"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// rootOptions are shared by every subcommand.
type rootOptions struct {
	configPath  string
	envFile     string
	storeDriver string
	storePath   string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "mailcache",
		Short: "Mailcache - mirror IMAP folder envelopes into a local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			// default to help
			return cmd.Help()
		},
	}

	var showVersion bool
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentFlags().StringVar(&ro.configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&ro.envFile, "env-file", "", "Path to .env file (default ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&ro.storeDriver, "store-driver", "", "Cache driver: bolt or json (overrides config)")
	rootCmd.PersistentFlags().StringVar(&ro.storePath, "store", "", "Cache file path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&ro.logLevel, "log-level", "", "trace, debug, info, warn or error (overrides config)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("mailcache %s", version)
			if commit != "" {
				fmt.Printf(" (%s)", commit)
			}
			if date != "" {
				fmt.Printf(" built %s", date)
			}
			fmt.Println()
			os.Exit(0)
		}
	}

	rootCmd.AddCommand(
		newSyncCmd(ro),
		newServeCmd(ro),
		newStatusCmd(ro),
		newExportCmd(ro),
	)
	return rootCmd
}

// app bundles what a subcommand needs once configuration is resolved.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	store  state.Store
	redact logging.Redactor
}

func openApp(ro *rootOptions) (*app, error) {
	cfg, err := config.Load(ro.configPath, ro.envFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if ro.storeDriver != "" {
		cfg.Store.Driver = ro.storeDriver
	}
	if ro.storePath != "" {
		cfg.Store.Path = ro.storePath
	}
	if ro.logLevel != "" {
		cfg.Logging.Level = ro.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(logging.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Sanitized: cfg.Logging.Sanitized,
	}, os.Stderr)
	if err != nil {
		return nil, err
	}
	st, err := state.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &app{cfg: cfg, log: log, store: st, redact: logging.Redactor{Enabled: cfg.Logging.Sanitized}}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("close cache")
	}
}

// dialer builds the IMAP dialer from config. insecure forces certificate
// verification off for this invocation.
func (a *app) dialer(log zerolog.Logger, insecure bool) syncer.DialFunc {
	opts := imapwire.Options{
		TLSConfig:      &tls.Config{InsecureSkipVerify: a.cfg.IMAP.InsecureSkipVerify || insecure},
		ConnectTimeout: a.cfg.IMAP.ConnectTimeout,
		CommandTimeout: a.cfg.IMAP.CommandTimeout,
	}
	if a.cfg.IMAP.Debug {
		opts.Debug = logging.TraceWriter(log)
	}
	return syncer.DialIMAP(opts)
}

func (a *app) newSyncer(log zerolog.Logger, insecure bool, opts syncer.Options) *syncer.Syncer {
	opts.DefaultFolders = a.cfg.Sync.DefaultFolders
	opts.Redact = a.redact
	return syncer.New(a.dialer(log, insecure), a.store, log, opts)
}
