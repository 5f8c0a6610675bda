// Package config holds the application's root configuration, loaded once
// through viper and shared as a process-wide singleton.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Platforms PlatformsConfig `mapstructure:"platforms"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Login     LoginConfig     `mapstructure:"login"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	Notion    NotionConfig    `mapstructure:"notion"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Server    ServerConfig    `mapstructure:"server"`
}

// ColorConfig defines the console colors for each log level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug"`
	Info   string `mapstructure:"info"`
	Warn   string `mapstructure:"warn"`
	Error  string `mapstructure:"error"`
	DPanic string `mapstructure:"dpanic"`
	Panic  string `mapstructure:"panic"`
	Fatal  string `mapstructure:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// BrowserConfig holds settings for the Chrome session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`

	// Humanize routes clicks and typing through curved pointer glides and
	// per-key cadence instead of instant dispatch.
	Humanize bool `mapstructure:"humanize"`
}

// PlatformConfig describes how one insurer surfaces inside the shared
// portal: the label on its selector option, the logo that identifies it,
// and the URL fragment it lands on.
type PlatformConfig struct {
	OptionLabel  string `mapstructure:"option_label"`
	LogoSelector string `mapstructure:"logo_selector"`
	URLSubstring string `mapstructure:"url_substring"`
}

// PlatformsConfig holds the two insurers served by the portal.
type PlatformsConfig struct {
	BCI   PlatformConfig `mapstructure:"bci"`
	Zenit PlatformConfig `mapstructure:"zenit"`
}

// SelectorsConfig holds the CSS selectors shared across both platforms.
type SelectorsConfig struct {
	Dropdown           string   `mapstructure:"dropdown"`
	Option             string   `mapstructure:"option"`
	Loaders            string   `mapstructure:"loaders"`
	Backdrops          string   `mapstructure:"backdrops"`
	AcceptLabels       []string `mapstructure:"accept_labels"`
	DialogAccept       string   `mapstructure:"dialog_accept"`
	PaginatorNext      string   `mapstructure:"paginator_next"`
	Tab                string   `mapstructure:"tab"`
	AssignedTabLabel   string   `mapstructure:"assigned_tab_label"`
	SettlementTabLabel string   `mapstructure:"settlement_tab_label"`
	Rows               string   `mapstructure:"rows"`
	ClaimsScope        string   `mapstructure:"claims_scope"`
}

// RetryConfig carries the budgets and pacing knobs for page interaction.
type RetryConfig struct {
	Classification platform.Budget `mapstructure:"classification"`
	Interaction    platform.Budget `mapstructure:"interaction"`
	Transition     platform.Budget `mapstructure:"transition"`
	ReadyTimeout   time.Duration   `mapstructure:"ready_timeout"`
	SettleDelay    time.Duration   `mapstructure:"settle_delay"`
	PollInterval   time.Duration   `mapstructure:"poll_interval"`
	StablePause    time.Duration   `mapstructure:"stable_pause"`
}

// LoginConfig holds the portal entry point and credentials. User and
// password come from the environment, never from files.
type LoginConfig struct {
	URL                 string `mapstructure:"url"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	UserSelector        string `mapstructure:"user_selector"`
	PasswordSelector    string `mapstructure:"password_selector"`
	SubmitSelector      string `mapstructure:"submit_selector"`
	SuccessURLSubstring string `mapstructure:"success_url_substring"`
}

// CaptchaConfig holds the 2captcha client settings.
type CaptchaConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Action       string        `mapstructure:"action"`
	MinScore     float64       `mapstructure:"min_score"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SolveTimeout time.Duration `mapstructure:"solve_timeout"`
}

// NotionConfig holds the Notion API client settings and the three
// database IDs records are synced into.
type NotionConfig struct {
	Token          string        `mapstructure:"token"`
	BaseURL        string        `mapstructure:"base_url"`
	Version        string        `mapstructure:"version"`
	SiniestrosDB   string        `mapstructure:"siniestros_db"`
	PatentesDB     string        `mapstructure:"patentes_db"`
	ClientesDB     string        `mapstructure:"clientes_db"`
	SyncWorkers    int           `mapstructure:"sync_workers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds settings for the Postgres connection.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// EngineConfig holds settings for the extraction pipeline.
type EngineConfig struct {
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// ServerConfig holds settings for the HTTP trigger surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SetDefaults seeds v with the values that hold when a key is absent
// from the config file and the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "extractor")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.operation_timeout", 30*time.Second)
	v.SetDefault("browser.humanize", true)

	v.SetDefault("platforms.bci.option_label", "BCI Seguros")
	v.SetDefault("platforms.bci.logo_selector", "img[src*='bciseguros']")
	v.SetDefault("platforms.bci.url_substring", "bciseguros")
	v.SetDefault("platforms.zenit.option_label", "Zenit Seguros")
	v.SetDefault("platforms.zenit.logo_selector", "img[src*='zenit']")
	v.SetDefault("platforms.zenit.url_substring", "zenit")

	v.SetDefault("selectors.dropdown", "img[src*='icon-ui-nav-flecha-abajo.svg']")
	v.SetDefault("selectors.option", "a.bs-selector.grande")
	v.SetDefault("selectors.loaders", "div.loader-container, .loader, [role='progressbar'], div.bs-page-loader")
	v.SetDefault("selectors.backdrops", ".cdk-overlay-backdrop, .modal-backdrop, .mat-dialog-backdrop, .bs-overlay-backdrop")
	v.SetDefault("selectors.accept_labels", []string{"Aceptar", "Acepto", "Entendido"})
	v.SetDefault("selectors.dialog_accept", ".bs-dynamic-dialog-footer button.bs-btn.bs-btn-primary")
	v.SetDefault("selectors.paginator_next", "button.p-paginator-next.p-paginator-element.p-link:not([disabled])")
	v.SetDefault("selectors.tab", "span.font-bold.white-space-nowrap.m-0.ng-star-inserted")
	v.SetDefault("selectors.assigned_tab_label", "Asignados")
	v.SetDefault("selectors.settlement_tab_label", "Liquidación")
	v.SetDefault("selectors.rows", "tr.ng-star-inserted")
	v.SetDefault("selectors.claims_scope", "body")

	v.SetDefault("retry.classification.max_attempts", 2)
	v.SetDefault("retry.classification.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.classification.multiplier", 2.0)
	v.SetDefault("retry.classification.max_delay", 2*time.Second)
	v.SetDefault("retry.interaction.max_attempts", 4)
	v.SetDefault("retry.interaction.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.interaction.multiplier", 2.0)
	v.SetDefault("retry.interaction.max_delay", 4*time.Second)
	v.SetDefault("retry.transition.max_attempts", 3)
	v.SetDefault("retry.transition.base_delay", time.Second)
	v.SetDefault("retry.transition.multiplier", 2.0)
	v.SetDefault("retry.transition.max_delay", 8*time.Second)
	v.SetDefault("retry.ready_timeout", 10*time.Second)
	v.SetDefault("retry.settle_delay", 500*time.Millisecond)
	v.SetDefault("retry.poll_interval", 250*time.Millisecond)
	v.SetDefault("retry.stable_pause", 300*time.Millisecond)

	v.SetDefault("login.url", "https://webproveedores.bciseguros.cl/login")
	v.SetDefault("login.user_selector", `input[formcontrolname="username"]`)
	v.SetDefault("login.password_selector", `input[formcontrolname="password"]`)
	v.SetDefault("login.submit_selector", "button.bs-btn.bs-btn-primary.btn-mobile-center.w-100")
	v.SetDefault("login.success_url_substring", "busqueda-avanzada")

	v.SetDefault("captcha.base_url", "https://2captcha.com")
	v.SetDefault("captcha.action", "login")
	v.SetDefault("captcha.min_score", 0.7)
	v.SetDefault("captcha.poll_interval", 5*time.Second)
	v.SetDefault("captcha.solve_timeout", 2*time.Minute)

	v.SetDefault("notion.base_url", "https://api.notion.com")
	v.SetDefault("notion.version", "2022-06-28")
	v.SetDefault("notion.sync_workers", 4)
	v.SetDefault("notion.request_timeout", 30*time.Second)

	v.SetDefault("database.max_conns", 4)

	v.SetDefault("engine.run_timeout", 30*time.Minute)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
}

// Validate rejects configurations that cannot produce a working run.
func (c *Config) Validate() error {
	if c.Login.User == "" || c.Login.Password == "" {
		return fmt.Errorf("login.user and login.password are required (set BCI_USER and BCI_PASS)")
	}
	if c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha.api_key is required (set API_KEY_2CAPTCHA)")
	}
	if c.Notion.Token == "" {
		return fmt.Errorf("notion.token is required (set NOTION_TOKEN)")
	}
	if c.Notion.SiniestrosDB == "" || c.Notion.PatentesDB == "" || c.Notion.ClientesDB == "" {
		return fmt.Errorf("notion database IDs are required (set DATABASE_ID_SINIESTROS, DATABASE_ID_PATENTES, DATABASE_ID_CLIENTES)")
	}
	if c.Notion.SyncWorkers <= 0 {
		return fmt.Errorf("notion.sync_workers must be a positive integer")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is a required configuration field")
	}
	for name, b := range map[string]platform.Budget{
		"retry.classification": c.Retry.Classification,
		"retry.interaction":    c.Retry.Interaction,
		"retry.transition":     c.Retry.Transition,
	} {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// Set replaces the singleton. Test seam.
func Set(cfg *Config) {
	instance = cfg
}
