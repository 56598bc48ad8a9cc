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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"designgate/internal/app"
	"designgate/internal/assess"
	"designgate/internal/config"
	"designgate/internal/domain"
	"designgate/internal/engine"
	"designgate/internal/gate"
	"designgate/internal/server"
	"designgate/internal/snapshot"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "dg",
	Short: "Designgate CLI",
	Long: `Designgate evaluates a design project's ethical gates.
- Phases: an ordered list; a phase opens once the phase before it is completed.
- Guidance: reference sources matched to reflection questions by guidance area, then by domain context.
- Assessment: question flags are weighed into a 0-100 ethical score and a proceed recommendation.
- Considerations: ethical items that need acknowledgement; acknowledgements live in .designgate/designgate.db.
- Event log: every acknowledgement change, view with 'dg log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(viper.GetBool("verbose"))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DESIGNGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/designgate.yml)")
	rootCmd.PersistentFlags().String("pool", "", "guidance pool YAML (overrides guidance.pool_file)")
	for _, name := range []string{"workspace", "json", "actor-id", "verbose", "config", "pool"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(guidanceCmd())
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(ackCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{Use: "phase", Short: "Evaluate the phase gate"}
	ph.AddCommand(phaseCheckCmd())
	ph.AddCommand(phaseStatesCmd())
	ph.AddCommand(phaseValidateCmd())
	return ph
}

func phaseCheckCmd() *cobra.Command {
	var file string
	var index int
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether one phase is unlocked",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Load(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.Unlocked(snap.Phases, index)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"index": index, "phase_id": snap.Phases[index].ID, "unlocked": ok})
				}
				state := "locked"
				if ok {
					state = "unlocked"
				}
				fmt.Printf("phase %d (%s) is %s\n", index, snap.Phases[index].ID, state)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot YAML")
	cmd.Flags().IntVar(&index, "index", 0, "phase index")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func phaseStatesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "states",
		Short: "Show the gate for every phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Load(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				states, current := e.Phases(snap.Phases)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"states": states, "current": current})
				}
				printPhaseStates(states, current)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func phaseValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate snapshot phases",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := snapshot.Load(file)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("snapshot OK")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func guidanceCmd() *cobra.Command {
	g := &cobra.Command{Use: "guidance", Short: "Resolve guidance sources"}
	g.AddCommand(guidanceResolveCmd())
	return g
}

func guidanceResolveCmd() *cobra.Command {
	var key, domainContext, file string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve guidance for a question key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var pool []domain.GuidanceSource
			if file != "" {
				p, err := snapshot.LoadPool(file)
				if err != nil {
					return err
				}
				pool = p
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if pool == nil && e.Pool == nil {
					return fmt.Errorf("no guidance pool: pass --file or --pool, or set guidance.pool_file")
				}
				sources := e.Guidance(key, domainContext, pool)
				if viper.GetBool("json") {
					return printJSON(sources)
				}
				printSources(sources)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "question key")
	cmd.Flags().StringVar(&domainContext, "context", "", "domain context")
	cmd.Flags().StringVarP(&file, "file", "f", "", "guidance pool or snapshot YAML")
	return cmd
}

func assessCmd() *cobra.Command {
	var file string
	var override bool
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score the question flags of a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Load(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Assess(snap.Flags, nil)
				if err != nil {
					return err
				}
				if override {
					logger.Info("assessment overridden", zap.String("actor_id", viper.GetString("actor-id")))
					a = assess.Override(a)
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				printAssessment(a)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot YAML")
	cmd.Flags().BoolVar(&override, "override", false, "allow proceeding after manual review")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func evaluateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a full snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Load(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Evaluate(ctx, snap)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				printPhaseStates(rep.Phases, rep.CurrentPhase)
				fmt.Println()
				printAssessment(rep.Assessment)
				fmt.Println()
				printConsiderations(rep.Considerations)
				fmt.Printf("%d consideration(s) pending acknowledgement\n", rep.Pending)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func ackCmd() *cobra.Command {
	a := &cobra.Command{Use: "ack", Short: "Acknowledge ethical considerations"}
	a.AddCommand(ackSetCmd())
	a.AddCommand(ackUnsetCmd())
	a.AddCommand(ackListCmd())
	return a
}

func ackSetCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "set <consideration-id>",
		Short: "Acknowledge a consideration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Acknowledge(ctx, engine.AcknowledgeOptions{
					ConsiderationID: args[0],
					ActorID:         viper.GetString("actor-id"),
					Note:            note,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func ackUnsetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unset <consideration-id>",
		Short: "Withdraw an acknowledgement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Unacknowledge(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"consideration_id": args[0], "acknowledged": false})
				}
				fmt.Printf("acknowledgement for %s withdrawn\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func ackListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List acknowledgements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAcknowledgements(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Consideration", "Actor", "At", "Note"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ConsiderationID, a.ActorID, a.AcknowledgedAt, a.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Tail(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect scoring and server config",
		Long:  "Config lives in designgate.yml in the workspace: scoring weights and pass threshold, the guidance pool, and server defaults. Missing files fall back to built-in defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(appOptions())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"config": cfg, "policy": cfg.Policy()})
			}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(b))
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default designgate.yml",
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
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(appOptions())
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
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("DESIGNGATE_JWT_SECRET"),
				AllowLegacyActorHeader: legacyActor,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("DESIGNGATE_JWT_SECRET is required for bearer auth")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			e, closeDB, err := app.OpenEngine(ctx, appOptions())
			if err != nil {
				return err
			}
			defer closeDB()
			if !cmd.Flags().Changed("addr") && e.Config.Server.Addr != "" {
				addr = e.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && e.Config.Server.BasePath != "" {
				basePath = e.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			server.StartWebhooks(ctx, e, logger)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving Designgate API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (deprecated)")
	return cmd
}

// --- helpers ---

func appOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigFile: viper.GetString("config"),
		PoolFile:   viper.GetString("pool"),
		Logger:     logger,
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e, closeDB, err := app.OpenEngine(ctx, appOptions())
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, e)
}

func printPhaseStates(states []gate.PhaseState, current int) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Name", "Status", "Progress", "Gate", ""})
	for _, s := range states {
		gateState := "locked"
		if s.Unlocked {
			gateState = "unlocked"
		}
		marker := ""
		if s.Index == current {
			marker = "<- current"
		}
		tw.AppendRow(table.Row{s.Index, s.Phase.ID, s.Phase.Name, s.Phase.Status, fmt.Sprintf("%d%%", s.Phase.Progress), gateState, marker})
	}
	tw.Render()
}

func printSources(sources []domain.GuidanceSource) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Source", "Area", "Context", "Updated", "Location"})
	for _, s := range sources {
		updated := ""
		if s.Updated != nil {
			updated = s.Updated.Format("2006-01-02")
		}
		tw.AppendRow(table.Row{s.SourceID, s.GuidanceArea, s.DomainContext, updated, s.SourceLocation})
	}
	tw.Render()
}

func printAssessment(a domain.EthicalAssessment) {
	fmt.Println(a.Summary)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Severity", "Question", "Issue"})
	for _, f := range a.QuestionFlags {
		tw.AppendRow(table.Row{f.Severity, f.QuestionKey, f.Issue})
	}
	if len(a.QuestionFlags) > 0 {
		tw.Render()
	}
	for _, r := range a.ActionableRecommendations {
		fmt.Println("- " + r)
	}
	fmt.Printf("score=%g threshold_met=%t proceed_recommendation=%t can_proceed=%t\n",
		a.EthicalScore, a.ThresholdMet, a.ProceedRecommendation, a.CanProceed)
}

func printConsiderations(items []domain.EthicalConsideration) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Acknowledged"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Title, c.Priority, c.Acknowledged})
	}
	tw.Render()
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

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
