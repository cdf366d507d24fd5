package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tapeoutops/internal/app"
	"tapeoutops/internal/config"
	"tapeoutops/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "tapeoutops",
	Short: "TapeOutOps specification and signoff backend",
	Long: `TapeOutOps manages chip specifications through their lifecycle.
- Specs: versioned JSON documents stored per project, linted on demand, approved or rejected by the company owner.
- Checklists: templates instantiated into signoff checklists whose items carry assignees and evidence files.
- Reports: roll-ups of projects, specs, lint findings and comments, exportable as csv or xlsx.

Settings come from tapeoutops.yml, then TAPEOUTOPS_* environment variables (a .env file is loaded first), then flags.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("TAPEOUTOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", config.FileName, "config file")
	pf.Bool("json", false, "output JSON")
	pf.String("data-dir", "", "data directory (overrides data_dir)")
	pf.String("log-level", "", "log level (overrides log.level)")
	pf.String("log-format", "", "log format json|text (overrides log.format)")
	for _, name := range []string{"config", "json", "data-dir", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(lintCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(specCmd())
}

// envOverrides maps viper keys (flags or TAPEOUTOPS_* variables) onto config fields.
var envOverrides = map[string]func(*config.Config, string){
	"data-dir":                     func(c *config.Config, v string) { c.DataDir = v },
	"http.addr":                    func(c *config.Config, v string) { c.HTTP.Addr = v },
	"http.base-path":               func(c *config.Config, v string) { c.HTTP.BasePath = v },
	"http.public-url":              func(c *config.Config, v string) { c.HTTP.PublicURL = v },
	"auth.jwt-secret":              func(c *config.Config, v string) { c.Auth.JWTSecret = v },
	"storage.backend":              func(c *config.Config, v string) { c.Storage.Backend = v },
	"storage.local-dir":            func(c *config.Config, v string) { c.Storage.LocalDir = v },
	"storage.gcs-bucket":           func(c *config.Config, v string) { c.Storage.GCSBucket = v },
	"storage.gcs-credentials-file": func(c *config.Config, v string) { c.Storage.GCSCredentialsFile = v },
	"storage.evidence-dir":         func(c *config.Config, v string) { c.Storage.EvidenceDir = v },
	"smtp.host":                    func(c *config.Config, v string) { c.SMTP.Host = v },
	"smtp.username":                func(c *config.Config, v string) { c.SMTP.Username = v },
	"smtp.password":                func(c *config.Config, v string) { c.SMTP.Password = v },
	"smtp.from":                    func(c *config.Config, v string) { c.SMTP.From = v },
	"log-level":                    func(c *config.Config, v string) { c.Log.Level = v },
	"log-format":                   func(c *config.Config, v string) { c.Log.Format = v },
}

// loadConfig reads the config file and layers environment and flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	for key, apply := range envOverrides {
		if v := viper.GetString(key); v != "" {
			apply(cfg, v)
		}
	}
	if v := viper.GetString("http.cors-origins"); v != "" {
		cfg.HTTP.CORSOrigins = strings.Split(v, ",")
	}
	if v := viper.GetInt("smtp.port"); v > 0 {
		cfg.SMTP.Port = v
	}
	if v := viper.GetDuration("auth.token-ttl"); v > 0 {
		cfg.Auth.TokenTTL = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	return logging.NewWithOutput(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

// withApp opens the application context for the duration of fn.
func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if addr != "" {
					a.Config.HTTP.Addr = addr
				}
				handler, err := a.Handler()
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:              a.Config.HTTP.Addr,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}
				stopped := make(chan struct{})
				go func() {
					defer close(stopped)
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						a.Logger.WithError(err).Warn("http shutdown")
					}
				}()
				a.Logger.WithFields(logrus.Fields{
					"addr":      a.Config.HTTP.Addr,
					"base_path": a.Config.HTTP.BasePath,
					"storage":   a.Config.Storage.Backend,
				}).Info("serving TapeOutOps API (OpenAPI at " + a.Config.HTTP.BasePath + "/openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				// In-flight requests finish before the deferred Close releases the database.
				<-stopped
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default tapeoutops.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *c
			redacted.Auth.JWTSecret = "***"
			if redacted.SMTP.Password != "" {
				redacted.SMTP.Password = "***"
			}
			if viper.GetBool("json") {
				return printJSON(redacted)
			}
			out, err := yaml.Marshal(redacted)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("Config OK")
			return nil
		},
	})
	return cfg
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
