package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadops/internal/app"
	"leadops/internal/config"
	"leadops/internal/db"
	"leadops/internal/domain"
	"leadops/internal/engine"
	"leadops/internal/migrate"
	"leadops/internal/query"
	"leadops/internal/repo"
	"leadops/internal/server"
	"leadops/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "leadops",
	Short: "Leadops CLI",
	Long: `Leadops is a multi-tenant lead operations backend.
- Workspace: your .leadops directory holding only the database; site configs live in the DB.
- Site: a tenant. Every lead, note, job, and saved view is scoped to one site.
- Leads: inbound prospects with a status pipeline (new -> contacted -> qualified -> quoted -> won, with lost/archived exits). Status writes carry an expected version; a stale version is rejected, never merged.
- Notes and events: the audit trail. Notes roll activity up onto the lead; events are append-only.
- Jobs: background work like CSV exports. Enqueue, then poll until ready or failed.
- Worker: 'leadops worker' polls the queue and runs claimed jobs.`,
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
	viper.SetEnvPrefix("LEADOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("site", "", "site id (overrides the single-site default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("site", rootCmd.PersistentFlags().Lookup("site"))
}

func registerCommands() {
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func siteCmd() *cobra.Command {
	site := &cobra.Command{Use: "site", Short: "Manage sites"}
	site.AddCommand(siteListCmd())
	site.AddCommand(siteCreateCmd())
	site.AddCommand(siteShowCmd())
	site.AddCommand(siteUseCmd())
	site.AddCommand(siteConfigCmd())
	return site
}

func siteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSites(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func siteCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create site",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(id))
			s, err := e.InitSite(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(s)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "site id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func siteShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSite(ctx, e.Config.Site.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func siteUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current site for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID := strings.TrimSpace(args[0])
			if siteID == "" {
				return fmt.Errorf("site id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "LEADOPS_SITE", siteID); err != nil {
				return err
			}
			fmt.Printf("Set LEADOPS_SITE=%s in %s/.env\n", siteID, workspace)
			return nil
		},
	}
	return cmd
}

func siteConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage site config",
	}
	cfg.AddCommand(siteConfigShowCmd())
	cfg.AddCommand(siteConfigImportCmd())
	return cfg
}

func siteConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show site config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func siteConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import site config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			siteID := cfg.Site.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if siteID == "" {
					siteID = e.Config.Site.ID
				}
				if err := e.Repo.UpsertSiteConfig(ctx, siteID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect site config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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
	return cmd
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{
		Use:   "lead",
		Short: "Manage leads",
		Long:  "Leads flow new -> contacted -> qualified -> quoted -> won, with lost and archived as exits. Status changes require the lead's current version; lost and archived also require a reason code.",
	}
	lead.AddCommand(leadCreateCmd())
	lead.AddCommand(leadListCmd())
	lead.AddCommand(leadShowCmd())
	lead.AddCommand(leadSetStatusCmd())
	lead.AddCommand(leadNoteCmd())
	lead.AddCommand(leadViewsCmd())
	return lead
}

func leadCreateCmd() *cobra.Command {
	var opts engine.LeadCreateOptions
	var premiumCents, commissionCents int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("premium-cents") {
				opts.EstMonthlyPremiumCents = &premiumCents
			}
			if cmd.Flags().Changed("commission-cents") {
				opts.EstCommissionCents = &commissionCents
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.SiteID == "" {
					opts.SiteID = e.Config.Site.ID
				}
				l, err := e.CreateLead(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "lead id (optional)")
	cmd.Flags().StringVar(&opts.SiteID, "site-id", "", "site id")
	cmd.Flags().StringVar(&opts.Type, "type", "web", "lead type")
	cmd.Flags().StringVar(&opts.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Region, "region", "", "region")
	cmd.Flags().IntVar(&opts.PriorityScore, "priority", 0, "priority score 0-100")
	cmd.Flags().StringVar(&opts.PriorityReason, "priority-reason", "", "priority reason")
	cmd.Flags().Int64Var(&premiumCents, "premium-cents", 0, "estimated monthly premium in cents")
	cmd.Flags().Int64Var(&commissionCents, "commission-cents", 0, "estimated commission in cents")
	cmd.Flags().StringVar(&opts.NextActionAt, "next-action-at", "", "next action time (RFC3339)")
	cmd.Flags().StringVar(&opts.NextActionType, "next-action-type", "", "next action type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func leadListCmd() *cobra.Command {
	var search, status, leadType, region, sort, cursor, archived, due string
	var priorityMin, priorityMax, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				filters := query.Filters{
					Search:        search,
					Statuses:      splitCSV(status),
					Types:         splitCSV(leadType),
					Regions:       splitCSV(region),
					NextActionDue: query.NextActionDue(due),
				}
				switch archived {
				case "only":
					filters.Archived = query.ArchivedOnly
				case "any":
					filters.Archived = query.ArchivedAny
				}
				if cmd.Flags().Changed("priority-min") {
					filters.PriorityMin = &priorityMin
				}
				if cmd.Flags().Changed("priority-max") {
					filters.PriorityMax = &priorityMax
				}
				res, err := e.ListLeads(ctx, engine.ListOptions{
					SiteID:  e.Config.Site.ID,
					Filters: filters,
					Sort:    sort,
					Cursor:  cursor,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"items":          res.Items,
						"next_cursor":    res.NextCursor,
						"filtered_count": res.FilteredCount,
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Region", "Version", "Created"})
				for _, l := range res.Items {
					status := l.Status
					if l.Archived() {
						status += " (archived)"
					}
					tw.AppendRow(table.Row{l.ID, l.FullName, status, l.PriorityScore, l.Region, l.Version, l.CreatedAt})
				}
				tw.Render()
				fmt.Printf("%d matching lead(s)\n", res.FilteredCount)
				if res.NextCursor != "" {
					fmt.Printf("next: --cursor %s\n", res.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "search by name, phone, or email")
	cmd.Flags().StringVar(&status, "status", "", "status filter (comma separated)")
	cmd.Flags().StringVar(&leadType, "type", "", "type filter (comma separated)")
	cmd.Flags().StringVar(&region, "region", "", "region filter (comma separated)")
	cmd.Flags().IntVar(&priorityMin, "priority-min", 0, "minimum priority score")
	cmd.Flags().IntVar(&priorityMax, "priority-max", 0, "maximum priority score")
	cmd.Flags().StringVar(&due, "due", "", "next action window (any, overdue, today, next_7_days)")
	cmd.Flags().StringVar(&archived, "archived", "", "archive scope (only, any; default active)")
	cmd.Flags().StringVar(&sort, "sort", "", "sort key")
	cmd.Flags().StringVar(&cursor, "cursor", "", "page cursor")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	return cmd
}

func leadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead with notes, events, and status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetLeadDetail(ctx, id, e.Config.Site.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func leadSetStatusCmd() *cobra.Command {
	var status, subStatus, reason, nextActionAt, nextActionType string
	var expectedVersion int64
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update lead status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expectedVersion <= 0 {
				return fmt.Errorf("--expected-version required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateStatus(ctx, engine.UpdateStatusOptions{
					SiteID:          e.Config.Site.ID,
					LeadID:          id,
					ExpectedVersion: expectedVersion,
					Status:          status,
					SubStatus:       subStatus,
					ReasonCode:      reason,
					NextActionAt:    nextActionAt,
					NextActionType:  nextActionType,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&subStatus, "sub-status", "", "sub status")
	cmd.Flags().StringVar(&reason, "reason", "", "reason code (required for lost and archived)")
	cmd.Flags().StringVar(&nextActionAt, "next-action-at", "", "next action time (RFC3339)")
	cmd.Flags().StringVar(&nextActionType, "next-action-type", "", "next action type")
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "version read before this change")
	_ = cmd.MarkFlagRequired("status")
	_ = cmd.MarkFlagRequired("expected-version")
	return cmd
}

func leadNoteCmd() *cobra.Command {
	var text string
	var pinned bool
	cmd := &cobra.Command{
		Use:   "note <id>",
		Short: "Add a note to a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddNote(ctx, engine.NoteOptions{
					SiteID:   e.Config.Site.ID,
					LeadID:   id,
					ActorID:  viper.GetString("actor-id"),
					NoteText: text,
					Pinned:   pinned,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "pin the note")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func leadViewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "List saved views",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.SavedViews(ctx, e.Config.Site.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Preset", "Sort", "Filters"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.ID, v.Name, v.IsPreset, v.Sort, v.Filters})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func exportCmd() *cobra.Command {
	exp := &cobra.Command{
		Use:   "export",
		Short: "Lead CSV exports",
		Long:  "Exports run as background jobs. Start one, then check its status until it is ready or failed.",
	}
	exp.AddCommand(exportStartCmd())
	exp.AddCommand(exportStatusCmd())
	return exp
}

func exportStartCmd() *cobra.Command {
	var status, sort string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Enqueue a lead export job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.EnqueueExport(ctx, e.Config.Site.ID, viper.GetString("actor-id"), engine.ExportPayload{
					Filters: query.Filters{Statuses: splitCSV(status)},
					Sort:    sort,
				})
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("Job %s queued. Check with: leadops export status %s\n", j.ID, j.ID)
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (comma separated)")
	cmd.Flags().StringVar(&sort, "sort", "", "sort key")
	return cmd
}

func exportStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show export job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.Repo.GetJob(ctx, id, e.Config.Site.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Inspect jobs"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.Repo.ListJobs(ctx, e.Config.Site.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "State", "Attempts", "Created"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.Type, j.State, j.Attempts, j.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of jobs")
	job.AddCommand(list)
	return job
}

func workerCmd() *cobra.Command {
	var interval, reclaimStale time.Duration
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker loop",
		Long:  "Claims queued jobs one at a time and executes them. Safe to run several workers against the same workspace; each job is claimed at most once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w := worker.New(e)
				if interval > 0 {
					w.Interval = interval
				} else if e.Config.Worker.PollInterval > 0 {
					w.Interval = e.Config.Worker.PollInterval
				}
				w.StaleAfter = reclaimStale
				fmt.Printf("Worker polling every %s (Ctrl-C to stop)\n", w.Interval)
				return w.Run(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (defaults to site config)")
	cmd.Flags().DurationVar(&reclaimStale, "reclaim-stale", 0, "requeue running jobs claimed longer ago than this (0 disables)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveSiteAndConfig(cmd.Context(), viper.GetString("site"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("LEADOPS_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("LEADOPS_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Leadops API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
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
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString()
				k := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "key": raw})
				}
				fmt.Printf("API key created: %s\nPass it in the X-Api-Key header. It will not be shown again.\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveSiteAndConfig(ctx, viper.GetString("site"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
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
	return os.WriteFile(path, []byte(content), 0o644)
}
