// File: internal/config/config.go
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Paths() PathsConfig
	Timing() TimingConfig
	Salesforce() SalesforceConfig
	SharePoint() SharePointConfig
	Workspace() WorkspaceConfig
	Pipeline() PipelineConfig
	Require(keys ...string) error
}

// Config holds the entire application configuration. It is built once at
// process start and passed down; nothing re-reads the environment afterwards.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	PathsCfg      PathsConfig      `mapstructure:"paths" yaml:"paths"`
	TimingCfg     TimingConfig     `mapstructure:"timing" yaml:"timing"`
	SalesforceCfg SalesforceConfig `mapstructure:"salesforce" yaml:"salesforce"`
	SharePointCfg SharePointConfig `mapstructure:"sharepoint" yaml:"sharepoint"`
	WorkspaceCfg  WorkspaceConfig  `mapstructure:"workspace" yaml:"workspace"`
	PipelineCfg   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Paths() PathsConfig           { return c.PathsCfg }
func (c *Config) Timing() TimingConfig         { return c.TimingCfg }
func (c *Config) Salesforce() SalesforceConfig { return c.SalesforceCfg }
func (c *Config) SharePoint() SharePointConfig { return c.SharePointCfg }
func (c *Config) Workspace() WorkspaceConfig   { return c.WorkspaceCfg }
func (c *Config) Pipeline() PipelineConfig     { return c.PipelineCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Position is a screen coordinate for the browser window.
type Position struct {
	X int `mapstructure:"x" yaml:"x"`
	Y int `mapstructure:"y" yaml:"y"`
}

// BrowserConfig controls how the Chrome process is launched.
type BrowserConfig struct {
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args         []string `mapstructure:"args" yaml:"args"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	// HiddenPosition places the window off-screen for unattended runs.
	HiddenPosition     Position      `mapstructure:"hidden_position" yaml:"hidden_position"`
	SupervisedPosition Position      `mapstructure:"supervised_position" yaml:"supervised_position"`
	Persona            PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig is the locale and identity the browser presents.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
}

// PathsConfig locates everything the tool reads or writes on disk.
type PathsConfig struct {
	SessionDir     string `mapstructure:"session_dir" yaml:"session_dir"`
	ProfileRoot    string `mapstructure:"profile_root" yaml:"profile_root"`
	DownloadsDir   string `mapstructure:"downloads_dir" yaml:"downloads_dir"`
	TrackingFile   string `mapstructure:"tracking_file" yaml:"tracking_file"`
	ArtifactPrefix string `mapstructure:"artifact_prefix" yaml:"artifact_prefix"`
	ArtifactSuffix string `mapstructure:"artifact_suffix" yaml:"artifact_suffix"`
}

// TimingConfig holds every fixed wait and bounded poll window.
type TimingConfig struct {
	Short            time.Duration `mapstructure:"short" yaml:"short"`
	Medium           time.Duration `mapstructure:"medium" yaml:"medium"`
	Long             time.Duration `mapstructure:"long" yaml:"long"`
	TableLoad        time.Duration `mapstructure:"table_load" yaml:"table_load"`
	DownloadComplete time.Duration `mapstructure:"download_complete" yaml:"download_complete"`
	ManualLogin      time.Duration `mapstructure:"manual_login" yaml:"manual_login"`
	Navigation       time.Duration `mapstructure:"navigation" yaml:"navigation"`
	AnalyticsReady   time.Duration `mapstructure:"analytics_ready" yaml:"analytics_ready"`
	ResultsTable     time.Duration `mapstructure:"results_table" yaml:"results_table"`
	MenuAppear       time.Duration `mapstructure:"menu_appear" yaml:"menu_appear"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	LoginNavigation  time.Duration `mapstructure:"login_navigation" yaml:"login_navigation"`
	PopupAppear      time.Duration `mapstructure:"popup_appear" yaml:"popup_appear"`
	PopupDeadline    time.Duration `mapstructure:"popup_deadline" yaml:"popup_deadline"`
	RefreshControl   time.Duration `mapstructure:"refresh_control" yaml:"refresh_control"`
	UploadSettle     time.Duration `mapstructure:"upload_settle" yaml:"upload_settle"`
	HelperWait       time.Duration `mapstructure:"helper_wait" yaml:"helper_wait"`
}

// SalesforceConfig targets the analytics dashboard.
type SalesforceConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
}

// HelperConfig describes the external process that drives the OS file picker.
type HelperConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

// SharePointConfig targets the file portal.
type SharePointConfig struct {
	URL      string       `mapstructure:"url" yaml:"url"`
	FilePath string       `mapstructure:"file_path" yaml:"file_path"`
	Helper   HelperConfig `mapstructure:"helper" yaml:"helper"`
}

// WorkspaceConfig targets the BI workspace. URLs is keyed by workspace id.
type WorkspaceConfig struct {
	User     string            `mapstructure:"user" yaml:"user"`
	Password string            `mapstructure:"password" yaml:"-"`
	URLs     map[string]string `mapstructure:"urls" yaml:"urls"`
	Default  string            `mapstructure:"default" yaml:"default"`
}

// PipelineConfig controls the multi-step runner.
type PipelineConfig struct {
	// Executable overrides the binary used for child steps. Empty means self.
	Executable string `mapstructure:"executable" yaml:"executable"`
	Workspace  string `mapstructure:"workspace" yaml:"workspace"`
}

// legacyEnv maps the environment names operators already use onto config keys.
var legacyEnv = map[string]string{
	"SALESFORCE_URL":     "salesforce.url",
	"SF_USER":            "salesforce.user",
	"SF_PASSWORD":        "salesforce.password",
	"SHAREPOINT_URL":     "sharepoint.url",
	"FILE_PATH":          "sharepoint.file_path",
	"WORKSPACE_URL":      "workspace.urls.other",
	"KPIS_URL":           "workspace.urls.kpis",
	"DEFENSA_URL":        "workspace.urls.defensa",
	"SECTORES_URL":       "workspace.urls.sectores",
	"WORKSPACE_USER":     "workspace.user",
	"WORKSPACE_PASSWORD": "workspace.password",
	"DOWNLOADS_DIR":      "paths.downloads_dir",
}

// LegacyEnvNames returns the bound environment names in a stable order.
func LegacyEnvNames() []string {
	names := make([]string, 0, len(legacyEnv))
	for name := range legacyEnv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "telemetry-sync")
	v.SetDefault("logger.log_file", "logs/telemetry-sync.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	// The vendor UIs misbehave headless; the window is parked off-screen instead.
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.args", []string{"--disable-setuid-sandbox"})
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.hidden_position.x", -2400)
	v.SetDefault("browser.hidden_position.y", -2400)
	v.SetDefault("browser.supervised_position.x", 250)
	v.SetDefault("browser.supervised_position.y", 50)
	v.SetDefault("browser.persona.locale", "es-ES")
	v.SetDefault("browser.persona.languages", []string{"es-ES", "es", "en"})

	// -- Paths --
	v.SetDefault("paths.session_dir", "session-data")
	v.SetDefault("paths.profile_root", ".")
	v.SetDefault("paths.downloads_dir", "~/Downloads")
	v.SetDefault("paths.tracking_file", "last_downloaded_file.txt")
	v.SetDefault("paths.artifact_prefix", "Copy_of_TECH")
	v.SetDefault("paths.artifact_suffix", ".xlsx")

	// -- Timing --
	v.SetDefault("timing.short", "1s")
	v.SetDefault("timing.medium", "3s")
	v.SetDefault("timing.long", "5s")
	v.SetDefault("timing.table_load", "30s")
	v.SetDefault("timing.download_complete", "15s")
	v.SetDefault("timing.manual_login", "60s")
	v.SetDefault("timing.navigation", "90s")
	v.SetDefault("timing.analytics_ready", "60s")
	v.SetDefault("timing.results_table", "60s")
	v.SetDefault("timing.menu_appear", "5s")
	v.SetDefault("timing.poll_interval", "1s")
	v.SetDefault("timing.login_navigation", "30s")
	v.SetDefault("timing.popup_appear", "10s")
	v.SetDefault("timing.popup_deadline", "25s")
	v.SetDefault("timing.refresh_control", "10s")
	v.SetDefault("timing.upload_settle", "10s")
	v.SetDefault("timing.helper_wait", "15s")

	// -- Sites --
	v.SetDefault("sharepoint.helper.command", "py")
	v.SetDefault("sharepoint.helper.args", []string{"upload.pyw"})
	v.SetDefault("workspace.default", "setup")

	// -- Pipeline --
	v.SetDefault("pipeline.workspace", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	for name, key := range legacyEnv {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The workspace shares the analytics identity unless told otherwise.
	if cfg.WorkspaceCfg.User == "" {
		cfg.WorkspaceCfg.User = cfg.SalesforceCfg.User
	}
	if cfg.WorkspaceCfg.Password == "" {
		cfg.WorkspaceCfg.Password = cfg.SalesforceCfg.Password
	}

	dir, err := homedir.Expand(cfg.PathsCfg.DownloadsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand downloads dir: %w", err)
	}
	cfg.PathsCfg.DownloadsDir = dir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values. Site URLs and
// credentials are not checked here; each command asks for what it needs
// through Require.
func (c *Config) Validate() error {
	switch c.LoggerCfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be 'console' or 'json', got %q", c.LoggerCfg.Format)
	}
	if c.PathsCfg.SessionDir == "" {
		return fmt.Errorf("paths.session_dir is required")
	}
	if c.PathsCfg.TrackingFile == "" {
		return fmt.Errorf("paths.tracking_file is required")
	}
	if c.PathsCfg.ArtifactPrefix == "" && c.PathsCfg.ArtifactSuffix == "" {
		return fmt.Errorf("paths.artifact_prefix or paths.artifact_suffix must be set")
	}
	if err := c.TimingCfg.Validate(); err != nil {
		return fmt.Errorf("timing configuration invalid: %w", err)
	}
	return nil
}

// Validate checks that every wait is a positive duration.
func (t *TimingConfig) Validate() error {
	checks := map[string]time.Duration{
		"short":             t.Short,
		"medium":            t.Medium,
		"long":              t.Long,
		"table_load":        t.TableLoad,
		"download_complete": t.DownloadComplete,
		"manual_login":      t.ManualLogin,
		"navigation":        t.Navigation,
		"analytics_ready":   t.AnalyticsReady,
		"results_table":     t.ResultsTable,
		"menu_appear":       t.MenuAppear,
		"poll_interval":     t.PollInterval,
		"login_navigation":  t.LoginNavigation,
		"popup_appear":      t.PopupAppear,
		"popup_deadline":    t.PopupDeadline,
		"refresh_control":   t.RefreshControl,
		"upload_settle":     t.UploadSettle,
		"helper_wait":       t.HelperWait,
	}
	var bad []string
	for name, d := range checks {
		if d <= 0 {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("must be positive durations: %s", strings.Join(bad, ", "))
	}
	return nil
}

// MissingKeysError lists every required environment entry that was absent.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

// Lookup resolves a legacy environment name against the loaded configuration.
func (c *Config) Lookup(name string) (string, bool) {
	var val string
	switch name {
	case "SALESFORCE_URL":
		val = c.SalesforceCfg.URL
	case "SF_USER":
		val = c.SalesforceCfg.User
	case "SF_PASSWORD":
		val = c.SalesforceCfg.Password
	case "SHAREPOINT_URL":
		val = c.SharePointCfg.URL
	case "FILE_PATH":
		val = c.SharePointCfg.FilePath
	case "WORKSPACE_URL":
		val = c.WorkspaceCfg.URLs["other"]
	case "KPIS_URL":
		val = c.WorkspaceCfg.URLs["kpis"]
	case "DEFENSA_URL":
		val = c.WorkspaceCfg.URLs["defensa"]
	case "SECTORES_URL":
		val = c.WorkspaceCfg.URLs["sectores"]
	case "WORKSPACE_USER":
		val = c.WorkspaceCfg.User
	case "WORKSPACE_PASSWORD":
		val = c.WorkspaceCfg.Password
	case "DOWNLOADS_DIR":
		val = c.PathsCfg.DownloadsDir
	default:
		return "", false
	}
	return val, val != ""
}

// Require returns a *MissingKeysError naming every absent entry, or nil.
func (c *Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := c.Lookup(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Keys: missing}
	}
	return nil
}

// WorkspaceURLKey returns the legacy env name holding the URL for a
// workspace id. "setup" and unknown ids use WORKSPACE_URL.
func WorkspaceURLKey(id string) string {
	switch strings.ToLower(id) {
	case "kpis":
		return "KPIS_URL"
	case "defensa":
		return "DEFENSA_URL"
	case "sectores":
		return "SECTORES_URL"
	default:
		return "WORKSPACE_URL"
	}
}

// WorkspaceURL resolves the target URL for a workspace id.
func (c *Config) WorkspaceURL(id string) string {
	return c.WorkspaceCfg.URLFor(id)
}

// URLFor resolves the target URL for a workspace id. Unknown ids and
// "setup" use the generic workspace URL.
func (w WorkspaceConfig) URLFor(id string) string {
	switch key := strings.ToLower(id); key {
	case "kpis", "defensa", "sectores":
		return w.URLs[key]
	default:
		return w.URLs["other"]
	}
}
