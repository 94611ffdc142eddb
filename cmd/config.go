package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "prflow"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prflow configuration.

Running bare 'prflow config' is the same as 'prflow config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# prflow configuration
# See: prflow config show (for effective values and sources)

# State/data directory (default: ~/.config/prflow)
# state_dir: {{ .StateDir }}

# SQLite database path for run history (default: ~/.config/prflow/prflow.db)
# db_path: {{ .DBPath }}

# Review locks
lock:
  # Directory holding lock files (default: ~/.config/prflow/locks)
  # dir: {{ .LockDir }}

  # Seconds after which an abandoned lock may be reclaimed (default: 300)
  ttl_seconds: {{ .LockTTL }}

# GitHub access
github:
  # API token (or set PRFLOW_GITHUB_TOKEN)
  token: ""

  # Repository to operate on
  owner: "{{ .Owner }}"
  repo: "{{ .Repo }}"

# Reviewer identity
reviewer:
  # Login the workflow reviews as; its own PRs are never reviewed
  identity: "{{ .Identity }}"

  # Reviewers requested on PRs held in draft
  # default_reviewers: ["alice", "bob"]

# Merge behavior
merge:
  # merge, squash, or rebase (default: squash)
  method: "{{ .MergeMethod }}"

  # Merge approved PRs automatically (default: true)
  auto_merge_on_approval: {{ .AutoMerge }}

  # Merge even when warnings or info findings remain (default: true)
  merge_with_minor_findings: {{ .MergeMinor }}
`

type configTemplateData struct {
	StateDir    string
	DBPath      string
	LockDir     string
	LockTTL     int
	Owner       string
	Repo        string
	Identity    string
	MergeMethod string
	AutoMerge   bool
	MergeMinor  bool
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:    viper.GetString("state_dir"),
		DBPath:      viper.GetString("db_path"),
		LockDir:     viper.GetString("lock.dir"),
		LockTTL:     viper.GetInt("lock.ttl_seconds"),
		Owner:       viper.GetString("github.owner"),
		Repo:        viper.GetString("github.repo"),
		Identity:    viper.GetString("reviewer.identity"),
		MergeMethod: viper.GetString("merge.method"),
		AutoMerge:   viper.GetBool("merge.auto_merge_on_approval"),
		MergeMinor:  viper.GetBool("merge.merge_with_minor_findings"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "PRFLOW_STATE_DIR"},
	{Key: "db_path", EnvVar: "PRFLOW_DB_PATH"},
	{Key: "lock.dir", EnvVar: "PRFLOW_LOCK_DIR"},
	{Key: "lock.ttl_seconds", EnvVar: "PRFLOW_LOCK_TTL_SECONDS"},
	{Key: "github.api_url", EnvVar: "PRFLOW_GITHUB_API_URL"},
	{Key: "github.owner", EnvVar: "PRFLOW_GITHUB_OWNER"},
	{Key: "github.repo", EnvVar: "PRFLOW_GITHUB_REPO"},
	{Key: "reviewer.identity", EnvVar: "PRFLOW_REVIEWER_IDENTITY"},
	{Key: "client.max_retries", EnvVar: "PRFLOW_CLIENT_MAX_RETRIES"},
	{Key: "client.backoff_seconds", EnvVar: "PRFLOW_CLIENT_BACKOFF_SECONDS"},
	{Key: "merge.method", EnvVar: "PRFLOW_MERGE_METHOD"},
	{Key: "merge.auto_merge_on_approval", EnvVar: "PRFLOW_MERGE_AUTO_MERGE_ON_APPROVAL"},
	{Key: "merge.merge_with_minor_findings", EnvVar: "PRFLOW_MERGE_MERGE_WITH_MINOR_FINDINGS"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-34s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prflow config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
