package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nexusdao/internal/app"
	"nexusdao/internal/config"
	"nexusdao/internal/db"
	"nexusdao/internal/domain"
	"nexusdao/internal/engine"
	"nexusdao/internal/migrate"
	"nexusdao/internal/query"
	"nexusdao/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus DAO task board",
	Long: `Nexus tracks DAO work through a fixed review lifecycle.
- Roles: Council members create tasks, Subcontractors claim and deliver them, Reviewers approve or reject.
- Lifecycle: Open -> InProgress -> UnderReview -> Completed; a rejected review sends the task back to Open with no assignee.
- Workspace: the directory holding nexus.yml and the .nexus database.
- Event log: every change is recorded; see 'nexus task history'.
Local commands act as the identity given with --as.`,
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
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NEXUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "identity to act as for local commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(taskCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage nexus.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default nexus.yml with a fresh session secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			content := strings.Replace(config.GenerateDefault(), `jwt_secret: ""`, fmt.Sprintf("jwt_secret: %q", secret), 1)
			if _, err := config.FromYAML([]byte(content)); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "***"
			}
			if cfg.Auth.Delegated.Secret != "" {
				cfg.Auth.Delegated.Secret = "***"
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate nexus.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: cfg.Storage.Workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d (%s)\n", version, db.Path(cfg.Storage.Workspace))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			log, err := app.NewLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := app.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(server.Config{
				Engine:    rt.Engine,
				Query:     rt.Query,
				Resolver:  rt.Resolver,
				Sessions:  rt.Sessions,
				Metrics:   rt.Metrics,
				Log:       log,
				BasePath:  cfg.Server.BasePath,
				RateLimit: cfg.RateLimit,
			})
			if err != nil {
				return err
			}
			go server.NewWebhookDispatcher(rt.Engine.Repo, cfg.Webhooks, log).Run(ctx)

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Info().
				Str("addr", cfg.Server.Addr).
				Str("base_path", cfg.Server.BasePath).
				Str("auth_mode", rt.Resolver.Mode()).
				Int("webhooks", len(cfg.Webhooks)).
				Msg("serving Nexus API (OpenAPI at /openapi.json, Swagger UI at /docs)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := query.New(e.Repo).StatusCounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				fmt.Println("Tasks:")
				for _, st := range domain.Statuses {
					fmt.Printf("  %s: %d\n", st, counts[st])
				}
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage user profiles"}
	u.AddCommand(userRegisterCmd())
	u.AddCommand(userShowCmd())
	u.AddCommand(userListCmd())
	return u
}

func userRegisterCmd() *cobra.Command {
	var username, role, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a profile",
		Long:  "Registers the --as identity. With --password and no --as, a new identity is minted for password login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					p   domain.UserProfile
					err error
				)
				as := strings.TrimSpace(viper.GetString("as"))
				if as == "" && password != "" {
					p, err = e.RegisterWithPassword(ctx, username, role, password)
				} else {
					p, err = e.Register(ctx, engine.RegisterOptions{
						Identity: domain.Identity(as),
						Username: username,
						Role:     role,
						Password: password,
					})
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "unique username")
	cmd.Flags().StringVar(&role, "role", "", "Council, Subcontractor or Reviewer")
	cmd.Flags().StringVar(&password, "password", "", "password for session login")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the --as profile and its permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := actingAs()
				if err != nil {
					return err
				}
				p, err := e.GetProfile(ctx, caller)
				if err != nil {
					return err
				}
				perms, err := e.Auth.Permissions(ctx, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"profile": p, "permissions": perms})
			})
		},
	}
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Role", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.Identity, u.Username, u.Role, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage API keys for delegated mode"}
	k.AddCommand(keyCreateCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(keyRevokeCmd())
	return k
}

func keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the --as identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := actingAs()
				if err != nil {
					return err
				}
				plain, key, err := e.CreateAPIKey(ctx, caller, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plain, "id": key.ID, "name": key.Name})
				}
				fmt.Printf("API key %s created. Store it now; it is not shown again:\n%s\n", key.ID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func keyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys of the --as identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := actingAs()
				if err != nil {
					return err
				}
				keys, err := e.Repo.ListAPIKeys(ctx, caller)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func keyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Work with tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskGetCmd())
	t.AddCommand(taskAssignCmd())
	t.AddCommand(taskSubmitCmd())
	t.AddCommand(taskReviewCmd())
	t.AddCommand(taskHistoryCmd())
	t.AddCommand(taskBoardCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var title, desc, deadline string
	var priority int
	var within time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (Council)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var due time.Time
			switch {
			case deadline != "":
				parsed, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("--deadline: %w", err)
				}
				due = parsed
			case within > 0:
				due = time.Now().Add(within)
			default:
				return fmt.Errorf("--deadline or --within required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := actingAs()
				if err != nil {
					return err
				}
				t, err := e.CreateTask(ctx, caller, engine.TaskCreateOptions{
					Title:       title,
					Description: desc,
					Priority:    priority,
					Deadline:    due.UnixNano(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, higher is more urgent")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline as RFC3339")
	cmd.Flags().DurationVar(&within, "within", 0, "deadline relative to now, e.g. 72h")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, assignee, creator, sortBy string
	var desc bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := query.New(e.Repo).List(ctx, query.Filter{
					Status:   status,
					Assignee: assignee,
					Creator:  creator,
					Sort:     sortBy,
					Desc:     desc,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderTasks(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&creator, "creator", "", "creator filter")
	cmd.Flags().StringVar(&sortBy, "sort", "id", "id, priority or deadline")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := query.New(e.Repo).Task(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	return transitionCmd("assign <id>", "Claim an Open task (Subcontractor)", func(ctx context.Context, e engine.Engine, caller domain.Identity, id int64) (domain.Task, error) {
		return e.AssignTask(ctx, caller, id)
	})
}

func taskSubmitCmd() *cobra.Command {
	return transitionCmd("submit <id>", "Submit an assigned task for review", func(ctx context.Context, e engine.Engine, caller domain.Identity, id int64) (domain.Task, error) {
		return e.SubmitTaskForReview(ctx, caller, id)
	})
}

func taskReviewCmd() *cobra.Command {
	var approve, reject bool
	cmd := transitionCmd("review <id>", "Approve or reject a task under review (Reviewer)", func(ctx context.Context, e engine.Engine, caller domain.Identity, id int64) (domain.Task, error) {
		if approve == reject {
			return domain.Task{}, fmt.Errorf("exactly one of --approve or --reject is required")
		}
		return e.ReviewTask(ctx, caller, id, approve)
	})
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the work")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject and reopen the task")
	return cmd
}

func transitionCmd(use, short string, fn func(context.Context, engine.Engine, domain.Identity, int64) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := actingAs()
				if err != nil {
					return err
				}
				t, err := fn(ctx, e, caller, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the events of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := query.New(e.Repo).History(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "When", "Type", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show tasks grouped by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := query.New(e.Repo).Board(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(b)
				}
				for _, lane := range b.Lanes {
					fmt.Printf("%s (%d)\n", lane.Status, len(lane.Tasks))
					if len(lane.Tasks) > 0 {
						renderTasks(lane.Tasks)
					}
				}
				return nil
			})
		},
	}
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := app.LoadConfig(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if mode := viper.GetString("auth-mode"); mode != "" {
		cfg.Auth.Mode = mode
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

// withEngine opens the store for a local command. No resolver is built:
// local commands act as the --as identity directly.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Storage.Workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	e := engine.New(conn, log.Level(zerolog.WarnLevel), nil)
	return fn(ctx, e)
}

func actingAs() (domain.Identity, error) {
	as := strings.TrimSpace(viper.GetString("as"))
	if as == "" {
		return "", fmt.Errorf("--as (or NEXUS_AS) is required")
	}
	return domain.Identity(as), nil
}

func parseTaskID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(strings.TrimPrefix(s, "#"), &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func renderTasks(items []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Deadline", "Assignee"})
	for _, t := range items {
		assignee := ""
		if t.Assignee != nil {
			assignee = string(*t.Assignee)
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.DeadlineTime().Format(time.DateTime), assignee})
	}
	tw.Render()
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
