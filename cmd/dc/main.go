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

	"github.com/jedib0t/go-pretty/v6/table"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"draftclinic/internal/app"
	"draftclinic/internal/config"
	"draftclinic/internal/db"
	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
	"draftclinic/internal/labels"
	"draftclinic/internal/migrate"
	"draftclinic/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dc",
	Short: "Draftclinic CLI",
	Long: `Draftclinic runs the academic writing-assistance back office: clients submit
requests, staff quote them, payments unlock the work, deliverables and revisions
flow back, and every step lands in the request's activity log.

- Workspace: the .draftclinic directory holding the database and local files.
- Config: draftclinic.yml in the workspace (dc config init writes one).
- Acting as: staff commands run as the account given with --as (email).`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DRAFTCLINIC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/draftclinic.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "email of the staff account to act as")
	rootCmd.PersistentFlags().String("lang", "fr", "label language (fr, en)")
	for _, name := range []string{"workspace", "config", "json", "as", "lang"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if v := viper.GetString("addr"); v != "" {
				cfg.Server.Addr = v
			}
			if v := viper.GetString("redis-url"); v != "" {
				cfg.Redis.URL = v
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DRAFTCLINIC_JWT_SECRET is required for bearer auth")
			}
			rt, err := app.OpenWithConfig(cmd.Context(), cfg, app.Options{
				Workspace: viper.GetString("workspace"),
				Sessions:  cfg.Redis.URL != "",
			})
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Sessions == nil {
				rt.Logger.Warn("redis not configured; refresh tokens are disabled")
			}
			handler, err := server.New(server.Config{
				Engine:      rt.Engine,
				Sessions:    rt.Sessions,
				BasePath:    cfg.Server.BasePath,
				Auth:        server.AuthConfig{JWTSecret: secret, AccessTTL: cfg.AccessTTL(), Logger: rt.Logger},
				CORSOrigins: cfg.Server.CORSOrigins,
				Logger:      rt.Logger,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), rt.Engine, cfg.Webhooks, rt.Logger)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: cfg.ReadTimeout()}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			rt.Logger.Info("serving draftclinic API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "openapi", "/openapi.json", "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("redis-url", "", "redis URL for refresh tokens (overrides redis.url)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("redis-url", cmd.Flags().Lookup("redis-url"))
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				version, err := migrate.Current(ctx, rt.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"version": version})
				}
				fmt.Printf("schema at version %d\n", version)
				return nil
			})
		},
	}
}

func adminCmd() *cobra.Command {
	adm := &cobra.Command{Use: "admin", Short: "Manage staff accounts"}
	adm.AddCommand(adminBootstrapCmd())
	adm.AddCommand(adminListCmd())
	adm.AddCommand(adminTransferCmd())
	return adm
}

func adminBootstrapCmd() *cobra.Command {
	var email, first, last string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first super admin",
		Long:  "Creates the super admin account of an empty installation. The password comes from --password or DRAFTCLINIC_ADMIN_PASSWORD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := viper.GetString("admin-password")
			if password == "" {
				return fmt.Errorf("--password or DRAFTCLINIC_ADMIN_PASSWORD required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.BootstrapSuperAdmin(ctx, email, password, engine.Profile{FirstName: first, LastName: last})
				if err != nil {
					return err
				}
				return printActors([]domain.Actor{a})
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().String("password", "", "password")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	_ = viper.BindPFlag("admin-password", cmd.Flags().Lookup("password"))
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func adminListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staff accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				admins, err := rt.Engine.ListAdmins(ctx, me.ID)
				if err != nil {
					return err
				}
				return printActors(admins)
			})
		},
	}
}

func adminTransferCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Hand the super admin role to another admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				target, err := rt.Engine.Repo.GetActorByEmail(ctx, nil, to)
				if err != nil {
					return fmt.Errorf("lookup %s: %w", to, err)
				}
				prev, next, err := rt.Engine.TransferSuperAdmin(ctx, me.ID, target.ID)
				if err != nil {
					return err
				}
				return printActors([]domain.Actor{prev, next})
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "email of the admin receiving the role")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func requestCmd() *cobra.Command {
	rq := &cobra.Command{Use: "request", Short: "Inspect service requests"}
	rq.AddCommand(requestListCmd())
	rq.AddCommand(requestShowCmd())
	return rq
}

func requestListCmd() *cobra.Command {
	var status, clientID, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				opts := engine.ListRequestsOptions{ActorID: me.ID, ClientID: clientID, Limit: limit, Cursor: cursor}
				for _, s := range strings.Split(status, ",") {
					if s = strings.TrimSpace(s); s != "" {
						opts.Statuses = append(opts.Statuses, domain.RequestStatus(s))
					}
				}
				page, err := rt.Engine.ListRequests(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				loc := locale()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Service", "Status", "Progress", "Deadline"})
				for _, r := range page.Requests {
					tw.AppendRow(table.Row{
						r.ID,
						r.Title,
						labels.Label(loc, labels.ServiceType, string(r.ServiceType)),
						labels.Label(loc, labels.RequestStatus, string(r.Status)),
						fmt.Sprintf("%d%%", r.ProgressPercentage),
						deref(r.Deadline),
					})
				}
				tw.Render()
				if page.NextCursor != "" {
					fmt.Printf("next: --cursor %s\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request with its payments and documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				detail, err := rt.Engine.GetRequest(ctx, me.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				loc := locale()
				r := detail.Request
				fmt.Printf("%s  %s\n", r.ID, r.Title)
				fmt.Printf("Status: %s (%d%%)  version %d\n", labels.Label(loc, labels.RequestStatus, string(r.Status)), r.ProgressPercentage, r.Version)
				if r.QuoteAmount != nil {
					fmt.Printf("Quote: %.2f  deposit paid: %v\n", *r.QuoteAmount, r.DepositPaid)
				}
				if len(detail.Payments) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Payment", "Type", "Amount", "Status"})
					for _, p := range detail.Payments {
						tw.AppendRow(table.Row{p.ID, labels.Label(loc, labels.PaymentType, string(p.Type)), fmt.Sprintf("%.2f", p.Amount), labels.Label(loc, labels.PaymentStatus, string(p.Status))})
					}
					tw.Render()
				}
				if len(detail.Documents) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Document", "Type", "Name", "Size"})
					for _, d := range detail.Documents {
						tw.AppendRow(table.Row{d.ID, labels.Label(loc, labels.DocumentType, string(d.Type)), d.OriginalFilename, d.FileSize})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Read request timelines"}
	act.AddCommand(activityTailCmd())
	return act
}

func activityTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail <request-id>",
		Short: "Latest activity of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				entries, err := rt.Engine.ListActivity(ctx, engine.ActivityOptions{ActorID: me.ID, RequestID: args[0], Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				loc := locale()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "When", "Action", "Actor", "Title", "Client"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.CreatedAt, labels.Label(loc, labels.ActionType, string(e.Action)), e.ActorID, e.Title, e.VisibleToClient})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Staff dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				d, err := rt.Engine.AdminDashboard(ctx, me.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Requests: %d total, %d pending, %d in progress\n", d.TotalRequests, d.Pending, d.InProgress)
				fmt.Printf("Payments awaiting verification: %d\n", d.PendingPayments)
				fmt.Printf("Clients: %d\n", d.TotalClients)
				loc := locale()
				for _, s := range domain.RequestStatuses {
					if c := d.ByStatus[string(s)]; c > 0 {
						fmt.Printf("  %s: %d\n", labels.Label(loc, labels.RequestStatus, string(s)), c)
					}
				}
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys of the --as account"}
	keys.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Create an API key; the raw key is printed once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				raw, key, err := rt.Engine.CreateAPIKey(ctx, me.ID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": raw, "api_key": key})
				}
				fmt.Printf("%s\n(id %s; store it now, it is not shown again)\n", raw, key.ID)
				return nil
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				items, err := rt.Engine.ListAPIKeys(ctx, me.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				return rt.Engine.DeleteAPIKey(ctx, me.ID, args[0])
			})
		},
	})
	return keys
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Access tokens for scripting"}
	tok.AddCommand(&cobra.Command{
		Use:   "issue",
		Short: "Mint an access token for the --as account",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DRAFTCLINIC_JWT_SECRET is required")
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, me domain.Actor) error {
				token, ttl, err := server.IssueAccessToken(server.AuthConfig{JWTSecret: secret, AccessTTL: rt.Config.AccessTTL()}, me)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"access_token": token, "expires_in": int(ttl.Seconds())})
				}
				fmt.Println(token)
				return nil
			})
		},
	})
	return tok
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect draftclinic.yml",
		Long:  "Config covers the listen address, database path, token lifetimes, file storage (local or s3), redis and webhooks.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := c.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default draftclinic.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	return cfg
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// withActor resolves the --as account before running fn.
func withActor(ctx context.Context, fn func(context.Context, *app.Runtime, domain.Actor) error) error {
	email := strings.TrimSpace(viper.GetString("as"))
	if email == "" {
		return fmt.Errorf("--as <email> (or DRAFTCLINIC_AS) required")
	}
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		found, err := rt.Engine.Repo.GetActorByEmail(ctx, nil, strings.ToLower(email))
		if err != nil {
			return fmt.Errorf("lookup %s: %w", email, err)
		}
		me, err := rt.Engine.GetActor(ctx, found.ID)
		if err != nil {
			return err
		}
		return fn(ctx, rt, me)
	})
}

func locale() labels.Locale {
	return labels.Match(viper.GetString("lang"))
}

func printActors(items []domain.Actor) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Email", "Name", "Role", "Active"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.Email, a.FullName(), a.Role, a.Active})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
