package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"storewatch/internal/app"
	"storewatch/internal/config"
	"storewatch/internal/model"
)

func main() {
	// A local .env provides access tokens and DSNs during development.
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// app.Close(). operation identifies the CLI command being run.
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "storewatch",
	Short: "Storefront theme diagnostics and rollback service",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Listen:    %s\n", cfg.Server.Addr)
		fmt.Printf("Vault:     %s (%s)\n", cfg.Vault.Name, cfg.Vault.Type)
		fmt.Printf("Scheduler: enabled=%v interval=%dm batch=%d\n",
			cfg.Scheduler.Enabled, cfg.Scheduler.IntervalMin, cfg.Scheduler.BatchSize)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, scheduled scans, and retention sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// storefronts command
var storefrontsCmd = &cobra.Command{
	Use:   "storefronts",
	Short: "Manage connected storefronts",
}

var storefrontsAddCmd = &cobra.Command{
	Use:   "add DOMAIN",
	Short: "Connect a storefront (access token read from --token-env)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		tokenEnv, _ := cmd.Flags().GetString("token-env")
		tier, _ := cmd.Flags().GetString("tier")

		a, err := newApp(cmd.Context(), "storefronts-add")
		if err != nil {
			return err
		}
		defer a.Close()

		sf, err := a.RegisterStorefront(args[0], name, tokenEnv, model.PlanTier(tier))
		if err != nil {
			return err
		}

		fmt.Printf("Registered %s (%s, %s plan)\n", sf.Domain, sf.ID, sf.PlanTier)
		return nil
	},
}

var storefrontsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active storefronts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "storefronts-list")
		if err != nil {
			return err
		}
		defer a.Close()

		storefronts, err := a.ListStorefronts()
		if err != nil {
			return err
		}

		if len(storefronts) == 0 {
			fmt.Println("No storefronts registered.")
			return nil
		}

		for _, sf := range storefronts {
			last := "never scanned"
			if sf.LastScanCompletedAt != nil {
				last = fmt.Sprintf("last scan %s (%s)",
					sf.LastScanCompletedAt.Format("2006-01-02 15:04"), sf.LastScanStatus)
			}
			fmt.Printf("%-40s  %-12s  %s\n", sf.Domain, sf.PlanTier, last)
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan SHOP",
	Short: "Run an on-demand scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "scan")
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.Scan(cmd.Context(), args[0])
		if err != nil {
			if run != nil {
				fmt.Printf("Scan %s failed: %s\n", run.ID, run.ErrorMessage)
			}
			return err
		}

		printScanRun(run)
		return nil
	},
}

// scans command
var scansCmd = &cobra.Command{
	Use:   "scans SHOP",
	Short: "View scan history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "scans")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.ScanHistory(args[0], limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No scans recorded.")
			return nil
		}

		for _, run := range runs {
			fmt.Printf("%s  %s  %-9s  %-9s  risk:%-6s  %d files (%d changed)\n",
				run.ID,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Trigger,
				run.Status,
				run.RiskLevel,
				run.FilesTotal,
				run.FilesChanged,
			)
		}
		return nil
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report SHOP",
	Short: "Render a markdown scan report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scanID, _ := cmd.Flags().GetString("scan")

		a, err := newApp(cmd.Context(), "report")
		if err != nil {
			return err
		}
		defer a.Close()

		md, err := a.ScanReport(args[0], scanID)
		if err != nil {
			return err
		}
		fmt.Print(md)
		return nil
	},
}

// rollback command
var rollbackCmd = &cobra.Command{
	Use:   "rollback VERSION_ID",
	Short: "Restore a file to a recorded version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("confirm")
		mode, _ := cmd.Flags().GetString("mode")
		notes, _ := cmd.Flags().GetString("notes")
		performedBy, _ := cmd.Flags().GetString("by")

		a, err := newApp(cmd.Context(), "rollback")
		if err != nil {
			return err
		}
		defer a.Close()

		outcome, err := a.Rollback(cmd.Context(), args[0], mode, confirmed, performedBy, notes)
		if err != nil {
			if outcome != nil && outcome.Action != nil {
				fmt.Printf("Rollback %s failed: %s\n", outcome.Action.ID, outcome.Action.ErrorMessage)
			}
			return err
		}

		if outcome.Confirmation != nil {
			c := outcome.Confirmation
			fmt.Printf("%s\n", c.Message)
			if c.AppOwnerGuess != "" {
				fmt.Printf("File %s appears to belong to %s.\n", c.FilePath, c.AppOwnerGuess)
			}
			fmt.Println("Re-run with --confirm to proceed.")
			return nil
		}

		fmt.Printf("Restored %s to version %s (%s)\n",
			outcome.Action.FilePath, outcome.Action.ToVersionID, outcome.Action.Status)
		return nil
	},
}

// restore-date command
var restoreDateCmd = &cobra.Command{
	Use:   "restore-date SHOP DATE",
	Short: "Restore a whole theme to its state at the end of DATE (YYYY-MM-DD)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		themeID, _ := cmd.Flags().GetString("theme")

		day, err := time.Parse("2006-01-02", args[1])
		if err != nil {
			return fmt.Errorf("date must be formatted YYYY-MM-DD: %w", err)
		}

		a, err := newApp(cmd.Context(), "restore-date")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.RestoreToDate(cmd.Context(), args[0], themeID, day)
		if err != nil {
			return err
		}

		fmt.Printf("Theme %s restored to %s: %d restored, %d skipped, %d failed\n",
			result.ThemeID, result.TargetDate, result.Restored, result.Skipped, result.Failed)
		for _, f := range result.Files {
			switch {
			case f.Error != "":
				fmt.Printf("  FAIL  %s: %s\n", f.FilePath, f.Error)
			case f.Skipped:
				fmt.Printf("  skip  %s (%s)\n", f.FilePath, f.Reason)
			default:
				fmt.Printf("  ok    %s\n", f.FilePath)
			}
		}
		return nil
	},
}

// diagnose command
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose SHOP",
	Short: "Correlate open issues against recent changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "diagnose")
		if err != nil {
			return err
		}
		defer a.Close()

		md, err := a.DiagnosisReport(args[0])
		if err != nil {
			return err
		}
		fmt.Print(md)
		return nil
	},
}

// compare command
var compareCmd = &cobra.Command{
	Use:   "compare ID1 ID2",
	Short: "Diff two recorded versions of a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "compare")
		if err != nil {
			return err
		}
		defer a.Close()

		cmp, err := a.CompareVersions(args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("File: %s\n", cmp.FilePath)
		fmt.Printf("Older: %s (%s)\n", cmp.OlderID, cmp.OlderAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Newer: %s (%s)\n", cmp.NewerID, cmp.NewerAt.Format("2006-01-02 15:04:05"))
		if cmp.Identical {
			fmt.Println("Content identical.")
			return nil
		}
		fmt.Printf("Size delta: %+d bytes\n", cmp.SizeDelta)
		if cmp.IsAppOwned {
			owner := cmp.OwnerGuess
			if owner == "" {
				owner = "unknown app"
			}
			fmt.Printf("File appears app-owned (%s).\n", owner)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export SHOP",
	Short: "Export scan or rollback history as CSV to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		rollbacks, _ := cmd.Flags().GetBool("rollbacks")

		a, err := newApp(cmd.Context(), "export")
		if err != nil {
			return err
		}
		defer a.Close()

		if rollbacks {
			return a.ExportRollbacks(os.Stdout, args[0], limit)
		}
		return a.ExportScans(os.Stdout, args[0], limit)
	},
}

// retention command
var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Manage history retention",
}

var retentionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one retention sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "retention-run")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.RunRetention(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Swept %d storefront(s): %d versions, %d scans, %d scripts deleted; %d objects archived\n",
			result.Storefronts, result.VersionsDeleted, result.ScansDeleted,
			result.ScriptsDeleted, result.ObjectsArchived)
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		return nil
	},
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage system settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [KEY]",
	Short: "Show settings (all, or one by key)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "settings-get")
		if err != nil {
			return err
		}
		defer a.Close()

		settings, err := a.Settings()
		if err != nil {
			return err
		}

		for _, s := range settings {
			if len(args) == 1 && s.Key != args[0] {
				continue
			}
			fmt.Printf("%-28s = %-8s  (%s, updated by %s)\n", s.Key, s.Value, s.Description, s.UpdatedBy)
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Update a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "settings-set")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.UpdateSetting(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage the archive vault",
}

var archiveInitKeyCmd = &cobra.Command{
	Use:   "init-key",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "archive-init-key")
		if err != nil {
			return err
		}
		defer a.Close()

		enc := a.Encryptor()
		if enc.IsConfigured() {
			return fmt.Errorf("archive key pair already exists")
		}

		passphrase, err := promptPassphrase()
		if err != nil {
			return err
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
		fmt.Println("Archive key pair generated.")
		return nil
	},
}

// promptPassphrase reads a passphrase twice without echo and verifies both
// entries match.
func promptPassphrase() (string, error) {
	fmt.Print("Passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}

	fmt.Print("Confirm passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

func printScanRun(run *model.ScanRun) {
	fmt.Printf("Scan %s %s\n", run.ID, run.Status)
	fmt.Printf("Theme: %s (%s)\n", run.ThemeName, run.ThemeID)
	fmt.Printf("Files: %d total, %d new, %d changed, %d deleted\n",
		run.FilesTotal, run.FilesNew, run.FilesChanged, run.FilesDeleted)
	fmt.Printf("Scripts: %d new, %d removed\n", run.ScriptsNew, run.ScriptsRemoved)
	fmt.Printf("Selector issues: %d\n", run.SelectorIssues)
	fmt.Printf("Risk: %s\n", run.RiskLevel)
	if run.Summary != "" {
		fmt.Println(run.Summary)
	}
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// storefronts subcommands
	storefrontsCmd.AddCommand(storefrontsAddCmd)
	storefrontsAddCmd.Flags().String("name", "", "Display name for the storefront")
	storefrontsAddCmd.Flags().String("token-env", "STOREWATCH_ACCESS_TOKEN", "Environment variable holding the admin API access token")
	storefrontsAddCmd.Flags().String("tier", "standard", "Plan tier: standard or professional")
	storefrontsCmd.AddCommand(storefrontsListCmd)

	// retention subcommands
	retentionCmd.AddCommand(retentionRunCmd)

	// settings subcommands
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveInitKeyCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storefrontsCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(scansCmd)
	scansCmd.Flags().IntP("limit", "n", 20, "Maximum number of scans to show")
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("scan", "", "Scan id (defaults to the most recent run)")
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().Bool("confirm", false, "Acknowledge an app-ownership warning")
	rollbackCmd.Flags().String("mode", "", "Restore mode: direct_live or draft_theme")
	rollbackCmd.Flags().String("notes", "", "Audit note for this rollback")
	rollbackCmd.Flags().String("by", "cli", "Who performed the rollback")
	rootCmd.AddCommand(restoreDateCmd)
	restoreDateCmd.Flags().String("theme", "", "Theme id (defaults to the most recently scanned theme)")
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().IntP("limit", "n", 200, "Maximum number of rows to export")
	exportCmd.Flags().Bool("rollbacks", false, "Export rollback history instead of scans")
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(archiveCmd)
}
