package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streetrun/internal/app"
	"streetrun/internal/config"
	"streetrun/internal/domain"
	"streetrun/internal/engine"
	"streetrun/internal/engine/auth"
	"streetrun/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "streetrun",
	Short: "Streetrun mission server",
	Long: `Streetrun runs the timed mission loop of the game.
- Missions: catalog entries with a duration and rewards; hidden ones cannot be started.
- Characters: one per player identity, holding currency and reputation.
- Start: begins a mission, computes its end time, and arms a short cooldown.
- Settle: after the end time, credits the rewards and frees the character.
- Event log: every start and settlement, view with 'streetrun log tail'.`,
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
	viper.SetEnvPrefix("STREETRUN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	slog.SetDefault(newLogger())
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "operator", "actor identifier recorded on operator events")
	rootCmd.PersistentFlags().String("db-dialect", "", "database dialect override (sqlite or postgres)")
	rootCmd.PersistentFlags().String("db-dsn", "", "postgres connection string override")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	for _, name := range []string{"workspace", "json", "actor-id", "db-dialect", "db-dsn", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(characterCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if strings.TrimSpace(secret) == "" {
				return fmt.Errorf("STREETRUN_JWT_SECRET is required for bearer auth")
			}
			e, cfg, conn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			logger := slog.Default()
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{Signer: auth.NewSigner(secret), DevLogin: devLogin || cfg.Server.DevLogin},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e, cfg.Webhooks, logger)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving streetrun api", "addr", addr, "base_path", basePath,
				"dialect", e.Repo.Dialect, "cooldown", e.Cooldown, "webhooks", len(cfg.Webhooks))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the unauthenticated dev token endpoint")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and add new catalog missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fmt.Printf("database ready (%s)\n", e.Repo.Dialect)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage streetrun.yml",
		Long:  "streetrun.yml holds the server address, database, cooldown, webhooks and the mission catalog. Catalog entries with new ids are added on every start; missions already stored keep their state. Use 'streetrun mission import streetrun.yml' to push edits to existing missions.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default streetrun.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
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
		Short: "Validate streetrun.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Manage the mission catalog"}
	m.AddCommand(missionListCmd())
	m.AddCommand(missionImportCmd())
	m.AddCommand(missionVisibilityCmd("hide", "Hide a mission from new starts", false))
	m.AddCommand(missionVisibilityCmd("show", "Make a mission startable again", true))
	return m
}

func missionListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				missions, err := e.Repo.ListMissions(ctx, all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Duration", "Credits", "Street Cred", "Items", "Visible"})
				for _, m := range missions {
					tw.AppendRow(table.Row{m.ID, m.Name, m.Duration(), m.Rewards.Credits, m.Rewards.StreetCred, len(m.Rewards.Items), m.Visible})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include hidden missions")
	return cmd
}

func missionImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert missions from a YAML catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			missions, err := config.CatalogFromFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportCatalog(ctx, missions, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("imported %d missions\n", len(missions))
				return nil
			})
		},
	}
}

func missionVisibilityCmd(use, short string, visible bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <mission-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid mission id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetMissionVisibility(ctx, id, visible, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("mission %d visible=%t\n", id, visible)
				return nil
			})
		},
	}
}

func characterCmd() *cobra.Command {
	c := &cobra.Command{Use: "character", Short: "Manage player characters"}
	c.AddCommand(characterCreateCmd())
	c.AddCommand(characterShowCmd())
	return c
}

func characterCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <identity>",
		Short: "Provision a character for a player identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCharacter(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the identity)")
	return cmd
}

func characterShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <identity>",
		Short: "Show balances and the running mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				printStatus(st)
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	})
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	var saveEnv bool
	cmd := &cobra.Command{
		Use:   "create <identity>",
		Short: "Issue an API key for a player identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plain, key, err := e.CreateAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				if saveEnv {
					envPath := filepath.Join(viper.GetString("workspace"), ".env")
					if err := setEnvValue(envPath, "STREETRUN_API_KEY", plain); err != nil {
						return err
					}
				}
				return printJSON(map[string]any{"id": key.ID, "owner": key.OwnerIdentity, "name": key.Name, "key": plain})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().BoolVar(&saveEnv, "save-env", false, "write STREETRUN_API_KEY to <workspace>/.env")
	return cmd
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <identity>",
		Short: "Sign a bearer token with STREETRUN_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if strings.TrimSpace(secret) == "" {
				return fmt.Errorf("STREETRUN_JWT_SECRET is required")
			}
			signer := auth.NewSigner(secret)
			if ttl > 0 {
				signer.TTL = ttl
			}
			token, err := signer.Sign(args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	t.AddCommand(issue)
	return t
}

func runCmd() *cobra.Command {
	r := &cobra.Command{Use: "run", Short: "Start or settle missions as a player (local testing)"}
	r.PersistentFlags().String("as", "", "player identity")
	_ = r.MarkPersistentFlagRequired("as")
	r.AddCommand(&cobra.Command{
		Use:   "start <mission-id>",
		Short: "Start a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid mission id %q", args[0])
			}
			owner, _ := cmd.Flags().GetString("as")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				am, err := e.StartMission(ctx, owner, id)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"message": "mission started", "missionId": am.MissionID, "endsAt": am.EndsAt})
			})
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "settle",
		Short: "Settle the running mission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("as")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SettleMission(ctx, owner)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	})
	return r
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, owner string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				characterID := ""
				if owner != "" {
					c, err := e.Character(ctx, owner)
					if err != nil {
						return err
					}
					characterID = c.ID
				}
				events, err := e.Repo.LatestEvents(ctx, n, characterID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&owner, "identity", "", "only events for this player's character")
	return cmd
}

// --- helpers ---

func openEngine(ctx context.Context) (engine.Engine, *config.Config, *sql.DB, error) {
	e, cfg, conn, err := app.Open(ctx, viper.GetString("workspace"), func(c *config.Config) {
		if d := viper.GetString("db-dialect"); d != "" {
			c.Database.Dialect = d
		}
		if dsn := viper.GetString("db-dsn"); dsn != "" {
			c.Database.DSN = dsn
		}
	})
	if err != nil {
		return engine.Engine{}, nil, nil, err
	}
	e.Logger = slog.Default()
	return e, cfg, conn, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, _, conn, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("log-format"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printStatus(st domain.CharacterStatus) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"Character", st.Character.ID})
	tw.AppendRow(table.Row{"Name", st.Character.Name})
	tw.AppendRow(table.Row{"Currency", st.Character.Currency})
	tw.AppendRow(table.Row{"Reputation", st.Character.Reputation})
	if st.Active != nil {
		name := strconv.FormatInt(st.Active.MissionID, 10)
		if st.Mission != nil {
			name = st.Mission.Name
		}
		tw.AppendRow(table.Row{"Mission", name})
		tw.AppendRow(table.Row{"Ends at", st.Active.EndsAt.Format(time.RFC3339)})
		tw.AppendRow(table.Row{"Remaining", fmt.Sprintf("%ds", max(st.RemainingSeconds, 0))})
	} else {
		tw.AppendRow(table.Row{"Mission", "-"})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
