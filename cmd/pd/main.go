package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pilotdeck/internal/app"
	"pilotdeck/internal/config"
	"pilotdeck/internal/db"
	"pilotdeck/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pd",
	Short: "PilotDeck CLI",
	Long: `PilotDeck is the control surface for automation modules.
- Module: one area of automated work (content, ads, email, social, seo, analytics).
- Mode: how much a module may do alone. manual runs nothing, copilot queues
  proposals for review, autopilot executes directly.
- Approval: an item proposed by an upstream agent that waits for a human.
- Action: a record of something executed, with its outcome.
- Rule: a trigger and the action it fires, scoped to one module.

Local commands (serve, apikey, config) open the workspace database directly.
Every other command talks to a running server at --api-url.`,
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
	viper.SetEnvPrefix("PILOTDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("workspace-id", "", "workspace id (overrides config)")
	flags.String("config", "", "config file (default <workspace>/pilotdeck.yml)")
	flags.String("api-url", "http://127.0.0.1:8080", "PilotDeck server URL")
	flags.String("token", "", "bearer token")
	flags.String("api-key", "", "API key")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "workspace-id", "config", "api-url", "token", "api-key", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(modeCmd())
	rootCmd.AddCommand(approvalsCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(watchCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PILOTDECK_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				metrics := server.NewMetrics(nil)
				authCfg := server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: viper.GetBool("legacy-actor-header"),
					DevLogin:               devLogin || a.Config.Server.DevLogin,
					Logger:                 logger,
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  metrics,
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				if d := server.NewWebhookDispatcher(a.Engine, metrics, logger); d != nil {
					go d.Start(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving PilotDeck API", "addr", addr, "base_path", basePath, "workspace", a.Config.Workspace.ID)
				fmt.Printf("Serving PilotDeck API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().Bool("legacy-actor-header", false, "accept X-Actor-Id without credentials")
	_ = viper.BindPFlag("legacy-actor-header", cmd.Flags().Lookup("legacy-actor-header"))
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in pilotdeck.yml at the workspace root: workspace id, module catalog, automation timings and webhooks. Without a file the default catalog is used.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(appOptions())
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate pilotdeck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if path := viper.GetString("config"); path != "" {
				_, err = config.FromFile(path)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var id string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pilotdeck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "default", "workspace id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				key, plain, err := a.Engine.CreateAPIKey(ctx, a.Config.Workspace.ID, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "api_key": plain})
				}
				fmt.Printf("API key %s for %s in %s:\n%s\n", key.ID, key.ActorID, key.WorkspaceID, plain)
				fmt.Println("The key is shown once; store it now.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys of the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, a.Config.Workspace.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Actor", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- helpers ---

func appOptions() app.Options {
	return app.Options{
		Workspace:   viper.GetString("workspace"),
		WorkspaceID: viper.GetString("workspace-id"),
		ConfigPath:  viper.GetString("config"),
		ActorID:     viper.GetString("actor-id"),
		Logger:      newLogger(),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	opts := appOptions()
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return err
	}
	a, err := app.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseJSONObject(flag, in string) (map[string]any, error) {
	if strings.TrimSpace(in) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return out, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
