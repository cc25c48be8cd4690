package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"veriline/internal/app"
	"veriline/internal/config"
	"veriline/internal/db"
	"veriline/internal/domain"
	"veriline/internal/events"
	"veriline/internal/export"
	"veriline/internal/machine"
	"veriline/internal/migrate"
	"veriline/internal/repo"
	"veriline/internal/server"
	"veriline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Veriline CLI",
	Long: `Veriline moves preserved content through an investigator-defined verification
methodology. A workspace holds one veriline.yml pointing at a remote store;
units from the configured segment are laid out as board columns derived from
the methodology's states, and moving a unit between columns fires the
corresponding transition and persists the new snapshot.`,
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
	viper.SetEnvPrefix("VERILINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("segment", "", "segment slug (overrides segment.slug)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("segment", rootCmd.PersistentFlags().Lookup("segment"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(methodologyCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(annotateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default veriline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if slug == "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return err
				}
				slug = filepath.Base(abs)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(slug)), 0o644); err != nil {
				return err
			}
			// Scaffold the local store database alongside the config.
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Wrote %s and initialized %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "workspace slug (defaults to directory name)")
	return cmd
}

func methodologyCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "methodology",
		Short: "Manage methodologies",
		Long:  "Methodologies are the investigator-defined state charts units are verified against. Import one from YAML or JSON; the board's columns come from its declared states.",
	}
	m.AddCommand(methodologyImportCmd())
	m.AddCommand(methodologyShowCmd())
	m.AddCommand(methodologyListCmd())
	return m
}

func methodologyImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a methodology into the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var slug, title, description, process string
			switch strings.ToLower(filepath.Ext(filePath)) {
			case ".yml", ".yaml":
				slug, title, description, process, err = machine.FromYAML(data)
				if err != nil {
					return err
				}
			default:
				var m domain.Methodology
				if err := json.Unmarshal(data, &m); err != nil {
					return fmt.Errorf("invalid methodology json: %w", err)
				}
				slug, title, description, process = m.Slug, m.Title, m.Description, m.Process
			}
			if _, err := machine.Parse(process); err != nil {
				return err
			}
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			client := newStoreClient(cfg)
			res, err := client.ImportMethodology(cmd.Context(), cfg.Workspace.Slug, slug, title, description, process)
			if err != nil {
				return err
			}
			return printJSONOrTable(res)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to methodology YAML or JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func methodologyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [slug]",
		Short: "Show a methodology and its derived columns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			slug := cfg.Methodology.Slug
			if len(args) == 1 {
				slug = args[0]
			}
			client := newStoreClient(cfg)
			def, err := machine.Load(cmd.Context(), client, cfg.Workspace.Slug, slug)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"slug":    def.Slug,
					"title":   def.Title,
					"initial": def.Initial,
					"columns": def.Columns(),
				})
			}
			fmt.Printf("Methodology: %s (%s)\n", def.Title, def.Slug)
			fmt.Printf("Initial state: %s\n", def.Initial)
			fmt.Println("Columns:")
			for _, col := range def.Columns() {
				fmt.Printf("  %s\n", col)
			}
			return nil
		},
	}
	return cmd
}

func methodologyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List methodologies in the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			client := newStoreClient(cfg)
			items, err := client.Methodologies(cmd.Context(), cfg.Workspace.Slug)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Slug", "Title", "Updated"})
			for _, m := range items {
				tw.AppendRow(table.Row{m.Slug, m.Title, m.UpdatedAt})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func boardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the verification board",
		Long:  "Renders the configured segment's units laid out under the methodology's columns. A column whose seed fetch failed renders empty rather than blocking the rest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if viper.GetBool("json") {
					out := map[string][]domain.VerificationUnit{}
					for _, col := range s.Board.Columns() {
						out[col] = s.Board.Units(col)
					}
					return printJSON(out)
				}
				renderBoard(s)
				return nil
			})
		},
	}
	return cmd
}

func renderBoard(s *app.Session) {
	columns := s.Board.Columns()
	units := make([][]domain.VerificationUnit, len(columns))
	depth := 0
	header := table.Row{}
	for i, col := range columns {
		units[i] = s.Board.Units(col)
		if len(units[i]) > depth {
			depth = len(units[i])
		}
		header = append(header, fmt.Sprintf("%s (%d)", col, len(units[i])))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for row := 0; row < depth; row++ {
		cells := table.Row{}
		for i := range columns {
			if row < len(units[i]) {
				u := units[i][row]
				cells = append(cells, fmt.Sprintf("#%d %s", u.ID, u.Title))
			} else {
				cells = append(cells, "")
			}
		}
		tw.AppendRow(cells)
	}
	tw.Render()
}

func moveCmd() *cobra.Command {
	var at int
	cmd := &cobra.Command{
		Use:   "move <unit-id> <column>",
		Short: "Move a unit to a column",
		Long:  "Runs one drag cycle: computes the allowed destinations for the unit, applies the transition when the drop is legal, and persists the snapshot in the background. An illegal destination leaves the board untouched.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid unit id %q", args[0])
			}
			destination := args[1]
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				_, sourceColumn, ok := s.Board.Find(unitID)
				if !ok {
					return fmt.Errorf("unit %d not on the board", unitID)
				}
				allowed := s.Controller.DragStart(unitID, sourceColumn)
				moved := s.Controller.DragEnd(destination, at)
				if !moved {
					if viper.GetBool("json") {
						return printJSON(map[string]any{"moved": false, "allowed": allowed})
					}
					fmt.Printf("Not moved. Allowed columns: %s\n", strings.Join(allowed, ", "))
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"moved": true, "from": sourceColumn, "to": destination})
				}
				fmt.Printf("Moved #%d: %s -> %s\n", unitID, sourceColumn, destination)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&at, "at", 0, "insert position in destination column")
	return cmd
}

func annotateCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "annotate",
		Short: "Read and record annotations",
		Long:  "The editable fields for a unit come from the metadata of its active methodology states; values persist against the unit's verification record.",
	}
	a.AddCommand(annotateListCmd())
	a.AddCommand(annotateSetCmd())
	return a
}

func annotateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <unit-id>",
		Short: "Show a unit's annotation schema and values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid unit id %q", args[0])
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				unit, _, ok := s.Board.Find(unitID)
				if !ok {
					return fmt.Errorf("unit %d not on the board", unitID)
				}
				view, err := s.Annotator().Open(ctx, unit.Verification, unit.State)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				values := map[string]domain.Annotation{}
				for _, v := range view.Values {
					values[v.Key] = v
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Name", "Kind", "Required", "Value"})
				for _, entry := range view.Schema {
					val := ""
					if v, ok := values[entry.Key]; ok {
						val = fmt.Sprint(v.Value)
					}
					tw.AppendRow(table.Row{entry.Key, entry.Name, entry.Kind, entry.Required, val})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func annotateSetCmd() *cobra.Command {
	var key, value, note string
	cmd := &cobra.Command{
		Use:   "set <unit-id>",
		Short: "Record an annotation value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid unit id %q", args[0])
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				unit, _, ok := s.Board.Find(unitID)
				if !ok {
					return fmt.Errorf("unit %d not on the board", unitID)
				}
				// Typed values (booleans, numbers) may be passed as JSON;
				// anything that does not parse stays a plain string.
				var parsed any = value
				var decoded any
				if err := json.Unmarshal([]byte(value), &decoded); err == nil {
					parsed = decoded
				}
				updated, err := s.Annotator().Submit(ctx, unit.Verification, unit.State, domain.Annotation{
					Key:   key,
					Value: parsed,
					Note:  note,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "annotation key")
	cmd.Flags().StringVar(&value, "value", "", "annotation value (JSON accepted)")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func exportCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export <column>",
		Short: "Export a column's units as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			column := args[0]
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if !s.Board.Has(column) {
					return fmt.Errorf("unknown column %q", column)
				}
				units := s.Board.Units(column)
				ids := make([]int, 0, len(units))
				for _, u := range units {
					ids = append(ids, u.ID)
				}
				res, err := export.Column(ctx, s.Store, s.Config.Workspace.Slug, s.Config.Segment.Slug, column, ids)
				if err != nil {
					return err
				}
				dir := outDir
				if dir == "" {
					dir = s.Config.Export.Dir
				}
				if dir == "" {
					dir = "."
				}
				path := filepath.Join(dir, res.Filename)
				if err := os.WriteFile(path, res.Data, 0o644); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"file": path, "units": len(ids)})
				}
				fmt.Printf("Wrote %s (%d units)\n", path, len(ids))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (defaults to export.dir)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference store API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			log := newLogger()
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			serveCfg := server.Config{
				DB:     conn,
				Repo:   repo.Repo{DB: conn},
				Events: events.Writer{DB: conn},
				Log:    log,
			}
			jwtSecret := os.Getenv("VERILINE_JWT_SECRET")
			if cfg != nil {
				serveCfg.Workspace = cfg.Workspace.Slug
				serveCfg.Webhooks = cfg.Webhooks
				if addr == "" {
					addr = cfg.Serve.Addr
				}
				if jwtSecret == "" {
					jwtSecret = cfg.Serve.JWTSecret
				}
			}
			if addr == "" {
				addr = "127.0.0.1:8791"
			}
			if jwtSecret == "" && !allowActorHeader {
				return fmt.Errorf("VERILINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local use)")
			}
			serveCfg.BasePath = basePath
			serveCfg.Auth = server.AuthConfig{
				JWTSecret:              jwtSecret,
				AllowLegacyActorHeader: allowActorHeader,
				Logger:                 log,
			}
			handler, err := server.New(serveCfg)
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
			fmt.Printf("Serving Veriline store API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to serve.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (local use only)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage store API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, label string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := "vk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Label:     label,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": rec.ID, "actor_id": actor, "key": key})
				}
				fmt.Printf("API key for %s (shown once): %s\n", actor, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&label, "label", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Store event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, investigation string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail store events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, n, investigation, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&investigation, "investigation", "", "investigation filter")
	return cmd
}

// --- helpers ---

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func newStoreClient(cfg *config.Config) *store.Client {
	client := store.NewClient(cfg.Remote.BaseURL)
	client.APIKey = cfg.Remote.APIKey
	if token := os.Getenv("VERILINE_TOKEN"); token != "" {
		client.BearerToken = token
	}
	return client
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	s, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("segment"), newLogger())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
