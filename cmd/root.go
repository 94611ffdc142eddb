package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prflow/internal/engine"
	"github.com/joescharf/prflow/internal/forge"
	"github.com/joescharf/prflow/internal/lock"
	"github.com/joescharf/prflow/internal/output"
	"github.com/joescharf/prflow/internal/policy"
	"github.com/joescharf/prflow/internal/store"
	"github.com/joescharf/prflow/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "prflow",
	Short: "Autonomous pull request review and merge workflow",
	Long: `prflow reviews pull requests and decides whether to merge them.
It gathers review findings, applies a merge policy, and executes the
resulting action: merge, merge with a follow-up issue, or convert the
pull request back to draft. Concurrent runs on the same PR are excluded
via filesystem locks.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prflow/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "prflow")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PRFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "prflow")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "prflow.db"))
	viper.SetDefault("lock.dir", filepath.Join(defaultConfigDir, "locks"))
	viper.SetDefault("lock.ttl_seconds", 300)
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", forge.DefaultAPIEndpoint)
	viper.SetDefault("github.owner", "")
	viper.SetDefault("github.repo", "")
	viper.SetDefault("reviewer.identity", "prflow-bot")
	viper.SetDefault("reviewer.default_reviewers", []string{})
	viper.SetDefault("client.max_retries", forge.DefaultMaxRetries)
	viper.SetDefault("client.backoff_seconds", 5)
	viper.SetDefault("client.rate_limit_threshold", forge.DefaultWarnThreshold)
	viper.SetDefault("merge.method", forge.MergeMethodSquash)
	viper.SetDefault("merge.auto_merge_on_approval", true)
	viper.SetDefault("merge.merge_with_minor_findings", true)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is initialized lazily so config/version commands run
	// without a database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// configuredRepo returns the owner/name repository from config.
func configuredRepo() (owner, name string, err error) {
	owner = viper.GetString("github.owner")
	name = viper.GetString("github.repo")
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("repository not configured: set github.owner and github.repo (or PRFLOW_GITHUB_OWNER / PRFLOW_GITHUB_REPO)")
	}
	return owner, name, nil
}

// splitRepo parses an owner/name argument.
func splitRepo(s string) (owner, name string, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return parts[0], parts[1], nil
}

// getForge builds the API client for the given repository.
func getForge(owner, repo string) (*forge.Client, error) {
	token := viper.GetString("github.token")
	if token == "" {
		return nil, fmt.Errorf("github token not configured: set github.token or PRFLOW_GITHUB_TOKEN")
	}

	c := forge.NewClient(token, owner, repo)
	if apiURL := viper.GetString("github.api_url"); apiURL != "" {
		c = c.WithBaseURL(apiURL)
	}
	c.MaxRetries = viper.GetInt("client.max_retries")
	c.Backoff = time.Duration(viper.GetInt("client.backoff_seconds")) * time.Second
	c.WarnThreshold = viper.GetInt("client.rate_limit_threshold")
	c.WarnFunc = ui.Warning
	return c, nil
}

// getLock builds the file lock from config.
func getLock() (*lock.FileLock, error) {
	ttl := time.Duration(viper.GetInt("lock.ttl_seconds")) * time.Second
	l, err := lock.New(viper.GetString("lock.dir"), ttl)
	if err != nil {
		return nil, err
	}
	l.Warnf = ui.Warning
	return l, nil
}

// getOrchestrator wires the full workflow around an API client.
func getOrchestrator(client *forge.Client) (*workflow.Orchestrator, error) {
	fileLock, err := getLock()
	if err != nil {
		return nil, err
	}

	identity := viper.GetString("reviewer.identity")
	o := workflow.New(client, fileLock, engine.New(client, identity), policy.Default(), workflow.Config{
		ReviewerIdentity: identity,
		MergeMethod:      viper.GetString("merge.method"),
		DefaultReviewers: viper.GetStringSlice("reviewer.default_reviewers"),
		DryRun:           dryRun,
	})
	o.Logf = ui.VerboseLog

	// Run history is best-effort; a broken database never blocks a review.
	if s, err := getStore(); err == nil {
		o.WithRecorder(s)
	} else {
		ui.Warning("run history disabled: %v", err)
	}
	return o, nil
}
