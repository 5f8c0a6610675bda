package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/observability"
)

// Version is stamped at release time via ldflags.
var Version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "extractor",
	Short: "Extractor pulls claim assignments from the BCI/ZENIT supplier portal.",
	Long: `Extractor logs into the shared supplier portal, switches between the BCI and
ZENIT platform contexts, harvests the assigned and settlement claim tables,
persists the batch to Postgres and syncs each claim into Notion.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		if err := config.Load(viper.GetViper()); err != nil {
			return err
		}
		cfg := config.Get()

		// The logger comes up before validation so the failure is visible
		// in the configured format.
		observability.InitializeLogger(cfg.Logger)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		observability.GetLogger().Info("Starting extractor", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command. The context comes from main and carries the
// shutdown signal.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// A canceled context means the operator asked to stop; that is not
		// a failure worth logging.
		if ctx.Err() == nil {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newClaimsCmd())
}

// initializeConfig reads the config file and binds the environment.
func initializeConfig() error {
	// .env first, so the bindings below can see what it loads. A missing
	// file is fine; production sets real environment variables.
	_ = godotenv.Load()

	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials keep their historical .env names alongside the
	// structured EXTRACTOR_* forms.
	_ = v.BindEnv("login.user", "BCI_USER", "EXTRACTOR_LOGIN_USER")
	_ = v.BindEnv("login.password", "BCI_PASS", "EXTRACTOR_LOGIN_PASSWORD")
	_ = v.BindEnv("captcha.api_key", "API_KEY_2CAPTCHA", "EXTRACTOR_CAPTCHA_API_KEY")
	_ = v.BindEnv("notion.token", "NOTION_TOKEN", "EXTRACTOR_NOTION_TOKEN")
	_ = v.BindEnv("notion.siniestros_db", "DATABASE_ID_SINIESTROS", "EXTRACTOR_NOTION_SINIESTROS_DB")
	_ = v.BindEnv("notion.patentes_db", "DATABASE_ID_PATENTES", "EXTRACTOR_NOTION_PATENTES_DB")
	_ = v.BindEnv("notion.clientes_db", "DATABASE_ID_CLIENTES", "EXTRACTOR_NOTION_CLIENTES_DB")
	_ = v.BindEnv("database.url", "DATABASE_URL", "EXTRACTOR_DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and the environment
		// carry the run. Parse errors are not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
