package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"so-appserver/internal/app"
	"so-appserver/internal/config"
	"so-appserver/internal/logger"
)

var version = "dev"

// flags que pisan la configuración cargada
type overrides struct {
	configPath string
	addr       string
	workers    int
	queue      int
	docroot    string
	logLevel   string
	backend    string
	redisAddr  string
	noMetrics  bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "appserver",
		Short: "Embedded HTTP/1.x application server",
		Long: `appserver serves static files, .script templates and named handlers
over its own accept loop, with sessions tracked by the sid cookie.

Examples:
  appserver --docroot ./www
  appserver --config appserver.yaml --addr :9090
  APPSERVER_SESSION_BACKEND=redis appserver`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	bindFlags(cmd, &o)
	cmd.AddCommand(configCmd(&o), versionCmd())
	return cmd
}

func bindFlags(cmd *cobra.Command, o *overrides) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML config file")
	f.StringVarP(&o.addr, "addr", "a", "", "listen address (default :8080)")
	f.IntVarP(&o.workers, "workers", "w", 0, "connection workers")
	f.IntVar(&o.queue, "queue", -1, "pending connection queue")
	f.StringVarP(&o.docroot, "docroot", "d", "", "document root")
	f.StringVar(&o.logLevel, "log-level", "", "debug|info|warn|error")
	f.StringVar(&o.backend, "sessions", "", "session backend: memory|redis")
	f.StringVar(&o.redisAddr, "redis-addr", "", "redis address for the redis backend")
	f.BoolVar(&o.noMetrics, "no-metrics", false, "disable /metrics")
}

// loadConfig aplica defaults, archivo, entorno y por último los flags
// que el usuario pasó explícitamente.
func loadConfig(cmd *cobra.Command, o overrides) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = o.addr
	}
	if changed("workers") {
		cfg.Workers = o.workers
	}
	if changed("queue") {
		cfg.Queue = o.queue
	}
	if changed("docroot") {
		cfg.DocumentRoot = o.docroot
	}
	if changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if changed("sessions") {
		cfg.SessionBackend = o.backend
	}
	if changed("redis-addr") {
		cfg.Redis.Addr = o.redisAddr
	}
	if o.noMetrics {
		cfg.Metrics = false
	}
	return cfg, nil
}

// serve arranca la app y bloquea hasta que ctx se cancele o el loop de
// accept termine solo.
func serve(ctx context.Context, cfg config.Config) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		_ = a.Close()
		return err
	}
	log.Info("so-appserver %s on %s (docroot=%s sessions=%s)", version, a.Server.Addr(), cfg.DocumentRoot, cfg.SessionBackend)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-a.Server.Done():
		log.Warn("accept loop exited")
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Stop(stopCtx)
}

func configCmd(o *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *o)
			if err != nil {
				return err
			}
			if cfg.Redis.Password != "" {
				cfg.Redis.Password = "***"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "so-appserver %s\n", version)
		},
	}
}
