package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/zhongwen/internal/auth"
	"github.com/TobiSchelling/zhongwen/internal/config"
	"github.com/TobiSchelling/zhongwen/internal/content"
	"github.com/TobiSchelling/zhongwen/internal/database"
	"github.com/TobiSchelling/zhongwen/internal/entitlement"
	"github.com/TobiSchelling/zhongwen/internal/llm"
	"github.com/TobiSchelling/zhongwen/internal/logging"
	"github.com/TobiSchelling/zhongwen/internal/pipeline"
	"github.com/TobiSchelling/zhongwen/internal/server"
	"github.com/TobiSchelling/zhongwen/internal/usage"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	envFile    string
	cfg        *config.Config
	logger     *logging.Logger
)

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "zhongwen",
	Short:   "Personalized Chinese reading practice",
	Long:    "zhongwen serves course content and generates personalized reading practice exercises with an LLM.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "DEBUG"
		}
		logger, err = logging.New(cfg.Logging.Mode, level)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to .env file (default ./.env if present)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(subscriptionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("zhongwen", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/zhongwen/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure providers, quotas, and the JWT secret variable.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		units, err := db.CountUnits(cmd.Context())
		if err != nil {
			return fmt.Errorf("counting units: %w", err)
		}

		fmt.Printf("Database: %s\n", db.Path())
		fmt.Printf("  Units: %d\n", units)
		fmt.Println("\nProviders:")
		printProvider("primary", cfg.Providers.Primary)
		printProvider("alternate", cfg.Providers.Alternate)
		fmt.Println("\nPipeline:")
		fmt.Printf("  Phases: %v\n", cfg.Pipeline.Phases)
		fmt.Printf("  Quota check: %v (%s)\n", cfg.Pipeline.QuotaCheck, cfg.Pipeline.QuotaMode)
		if t := cfg.PhaseTimeout(); t > 0 {
			fmt.Printf("  Phase timeout: %s\n", t)
		} else {
			fmt.Println("  Phase timeout: none")
		}
		return nil
	},
}

func printProvider(label string, p config.Provider) {
	if p.Kind == "" {
		fmt.Printf("  %s: not configured\n", label)
		return
	}
	key := "missing"
	if p.APIKey() != "" {
		key = "set"
	}
	fmt.Printf("  %s: %s %s (key %s via %s)\n", label, p.Kind, p.DefaultModel, key, p.APIKeyEnv)
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		tokens, err := auth.NewTokens(cfg.JWTSecret(), cfg.TokenTTL())
		if err != nil {
			return fmt.Errorf("%w: set %s", err, cfg.Auth.JWTSecretEnv)
		}
		gen, ledger, err := newGenerator(db)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://%s\n", addr)
		fmt.Println("Press Ctrl+C to stop")
		srv := server.New(db, gen, ledger, tokens, logger, server.WithCORS(cfg.Server.CORSOrigins...))
		return srv.Run(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- generate command ---

var (
	genUser  string
	genUnit  int64
	genFocus string
	genDebug bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a reading practice exercise for one user and unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		gen, _, err := newGenerator(db)
		if err != nil {
			return err
		}

		req := pipeline.Request{
			UserID:        genUser,
			UnitID:        genUnit,
			SpecificFocus: genFocus,
			Debug:         genDebug,
		}
		res, runErr := gen.Generate(cmd.Context(), req, func(state string) {
			fmt.Printf("-> %s\n", state)
		})

		for i, step := range res.Steps {
			fmt.Printf("\nStep %d/%d: %s (%s)\n", i+1, len(cfg.Pipeline.Phases), step.Name, step.Duration.Round(time.Millisecond))
			fmt.Printf("  %s\n", step.Summary)
			if raw, ok := res.Raw[step.Name]; ok {
				fmt.Printf("\n%s\n", raw)
			}
		}

		if runErr != nil {
			var perr *pipeline.Error
			if errors.As(runErr, &perr) {
				fmt.Printf("\nRun %s failed: %s\n", res.RunID, perr.UserMessage())
			}
			return runErr
		}

		fmt.Printf("\nRun %s complete: %q with %d questions.\n",
			res.RunID, res.Exercise.Meta.Title, len(res.Exercise.Questions.MultipleChoice))
		fmt.Printf("Stored for user %s, unit %d.\n", genUser, genUnit)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&genUser, "user", "", "User ID to generate for")
	generateCmd.Flags().Int64Var(&genUnit, "unit", 0, "Unit ID to generate for")
	generateCmd.Flags().StringVar(&genFocus, "focus", "", "Optional topic to emphasize in the story")
	generateCmd.Flags().BoolVar(&genDebug, "debug", false, "Print raw provider output of every phase")
	_ = generateCmd.MarkFlagRequired("user")
	_ = generateCmd.MarkFlagRequired("unit")
}

// --- usage command ---

var usageCmd = &cobra.Command{
	Use:   "usage [user-id]",
	Short: "Show a user's subscription and quota usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := newLedger(db).Stats(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("User: %s\n", args[0])
		fmt.Printf("  Tier: %s (%s)\n", stats.Subscription.Tier, stats.Subscription.Status)
		if stats.Subscription.RenewalDate != nil {
			fmt.Printf("  Renews: %s\n", stats.Subscription.RenewalDate.Format(time.RFC3339))
		}
		fmt.Println("\nReading practice:")
		fmt.Printf("  Used: %d/%d (%s)\n", stats.RWP.Count, stats.RWP.Limit, stats.RWP.PeriodType)
		fmt.Printf("  Resets: %s\n", stats.RWP.ResetAt.Format(time.RFC3339))
		fmt.Println("\nText-to-speech:")
		if !stats.TTS.Available {
			fmt.Println("  Not available on this tier")
		} else {
			fmt.Printf("  Used: %d/%d today\n", stats.TTS.Count, stats.TTS.Limit)
		}
		return nil
	},
}

// --- token command ---

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue an access token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := auth.NewTokens(cfg.JWTSecret(), cfg.TokenTTL())
		if err != nil {
			return fmt.Errorf("%w: set %s", err, cfg.Auth.JWTSecretEnv)
		}
		signed, expires, err := tokens.Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Println(signed)
		fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
		return nil
	},
}

// --- content command ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage course content",
}

var contentImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import modules and units from a YAML course file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		course, err := content.Load(args[0])
		if err != nil {
			return err
		}
		return importCourse(cmd.Context(), course)
	},
}

var contentSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Import the built-in sample unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return importCourse(cmd.Context(), content.Sample())
	},
}

func init() {
	contentCmd.AddCommand(contentImportCmd)
	contentCmd.AddCommand(contentSeedCmd)
}

func importCourse(ctx context.Context, course *content.Course) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := content.Import(ctx, db, course, logger)
	if err != nil {
		return err
	}
	fmt.Println("Import complete:")
	fmt.Printf("  Modules: %d\n", res.Modules)
	fmt.Printf("  Units: %d\n", res.Units)
	fmt.Printf("  Vocabulary: %d\n", res.Vocabulary)
	fmt.Printf("  Dialogue lines: %d\n", res.Dialogues)
	fmt.Printf("  Workbook exercises: %d\n", res.Exercises)
	return nil
}

// --- subscription command ---

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage user subscriptions",
}

var subPeriodEnd string

var subscriptionSetCmd = &cobra.Command{
	Use:   "set [user-id] [status]",
	Short: "Set a user's subscription status (premium, active, trialing, canceled, free)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var periodEnd *time.Time
		if subPeriodEnd != "" {
			t, err := time.Parse("2006-01-02", subPeriodEnd)
			if err != nil {
				return fmt.Errorf("invalid --period-end %q: want YYYY-MM-DD", subPeriodEnd)
			}
			periodEnd = &t
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.UpsertSubscription(cmd.Context(), args[0], args[1], periodEnd); err != nil {
			return err
		}
		ent, err := newResolver(db).Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Subscription for %s: %s (tier %s)\n", args[0], args[1], ent.Tier)
		return nil
	},
}

func init() {
	subscriptionSetCmd.Flags().StringVar(&subPeriodEnd, "period-end", "", "End of the current billing period (YYYY-MM-DD)")
	subscriptionCmd.AddCommand(subscriptionSetCmd)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "zhongwen.db")
	return database.Open(dbPath, logger)
}

func newResolver(db *database.DB) *entitlement.Resolver {
	return entitlement.NewResolver(db, cfg.Quotas)
}

func newLedger(db *database.DB) *usage.Ledger {
	return usage.New(db, newResolver(db), logger)
}

func newGenerator(db *database.DB) (*pipeline.Generator, *usage.Ledger, error) {
	provider, err := llm.CreateProvider(cfg.Providers, logger)
	if err != nil {
		return nil, nil, err
	}
	ledger := newLedger(db)
	return pipeline.New(db, ledger, provider, cfg.Pipeline, logger), ledger, nil
}
