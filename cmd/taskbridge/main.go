package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/ledger"
	"taskbridge/internal/migrate"
	"taskbridge/internal/server"
	"taskbridge/internal/suite"
	"taskbridge/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "taskbridge",
	Short: "Taskbridge CLI",
	Long: `Taskbridge keeps a tabular workspace and a task service in lockstep.
- Records in a base table become tasks; edits flow back into the record.
- Each table gets its own tasklist with a four-option status field,
  provisioned on first use.
- A local SQLite ledger remembers every mapping so webhook retries and
  concurrent deliveries never duplicate a task.
Run 'taskbridge serve' to expose the webhook endpoints, 'taskbridge backfill'
to import a table that predates the bridge, and 'taskbridge mappings' to
inspect the ledger.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(mappingsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e sync.Engine) error {
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					WebhookSecret: cfg.Server.WebhookSecret,
					JWTSecret:     cfg.Server.JWTSecret,
					Logger:        e.Log,
				}
				if authCfg.WebhookSecret == "" {
					return fmt.Errorf("server.webhook_secret is required to accept webhook deliveries")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("serving webhook API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Println("ledger schema is up to date")
			return nil
		},
	}
}

func backfillCmd() *cobra.Command {
	var baseID, tableID string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Create tasks for every unlinked owned record of a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseID == "" || tableID == "" {
				return fmt.Errorf("--base and --table required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e sync.Engine) error {
				created, err := e.BackfillTable(ctx, baseID, tableID)
				if err != nil {
					return err
				}
				fmt.Printf("created %d tasks\n", created)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&baseID, "base", "", "base id")
	cmd.Flags().StringVar(&tableID, "table", "", "table id")
	return cmd
}

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect the sync ledger",
	}
	cmd.AddCommand(mappingsTasklistsCmd())
	cmd.AddCommand(mappingsTasksCmd())
	return cmd
}

func mappingsTasklistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasklists",
		Short: "List provisioned tasklists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, s ledger.Store) error {
				items, err := s.ListTasklists(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Base", "Table", "Tasklist", "Name", "State", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.BaseID, t.TableID, t.TasklistID, t.TasklistName, t.State, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func mappingsTasksCmd() *cobra.Command {
	var baseID, tableID string
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List record to task links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, s ledger.Store) error {
				items, err := s.ListTaskLinks(ctx, baseID, tableID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Base", "Table", "Record", "Task", "Created"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.BaseID, l.TableID, l.RecordID, l.TaskID, l.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&baseID, "base", "", "base id filter")
	cmd.Flags().StringVar(&tableID, "table", "", "table id filter")
	cmd.Flags().IntVar(&limit, "n", 100, "max rows")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Sync event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail sync events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, s ledger.Store) error {
				events, err := s.LatestEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Record", "Task"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.RecordID, e.TaskID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage taskbridge.yml",
	}
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskbridge.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, sync.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	client := suite.New(cfg.Suite.BaseURL, cfg.Suite.AppID, cfg.Suite.AppSecret)
	return fn(ctx, sync.New(conn, cfg, client))
}

func withLedger(ctx context.Context, fn func(context.Context, ledger.Store) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, ledger.Store{DB: conn})
}

// loadConfig reads taskbridge.yml and overlays secrets from the environment
// so credentials never have to live in the file.
func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	for key, dst := range map[string]*string{
		"suite_app_id":          &cfg.Suite.AppID,
		"suite_app_secret":      &cfg.Suite.AppSecret,
		"server_webhook_secret": &cfg.Server.WebhookSecret,
		"server_jwt_secret":     &cfg.Server.JWTSecret,
	} {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
