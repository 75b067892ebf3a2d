package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mfenderov/feedfilter/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "feedfilter",
	Short: "feedfilter: hide feed posts by topic",
	Long: `feedfilter classifies social feed posts against your topics with an LLM
and hides the ones that match. Classifications are cached so each post is
classified once.

Commands:
  filter  Filter a saved or fetched feed page once
  watch   Keep filtering a saved feed page as it grows
  topics  Show or edit the topic selection
  key     Manage the classification API key
  enable  Turn filtering on
  disable Turn filtering off
  cache   Inspect or clear cached classifications
  search  Search archived classifications
  serve   Start the MCP server`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func initLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func initConfig() {
	cfg = loadConfig(viper.New(), cfgFile)
}

// loadConfig merges defaults, the config file and FEEDFILTER_* variables.
func loadConfig(v *viper.Viper, file string) config.Config {
	c := config.Defaults()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/feedfilter")
		v.AddConfigPath(".")
	}

	// FEEDFILTER_LLM_API_KEY -> llm.api_key
	v.SetEnvPrefix("FEEDFILTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("llm.endpoint", "FEEDFILTER_LLM_ENDPOINT")
	v.BindEnv("llm.model", "FEEDFILTER_LLM_MODEL")
	v.BindEnv("llm.api_key", "FEEDFILTER_LLM_API_KEY")
	v.BindEnv("store.backend", "FEEDFILTER_STORE_BACKEND")
	v.BindEnv("store.path", "FEEDFILTER_STORE_PATH")
	v.BindEnv("storage.endpoint", "FEEDFILTER_STORAGE_ENDPOINT")
	v.BindEnv("storage.bucket", "FEEDFILTER_STORAGE_BUCKET")
	v.BindEnv("storage.access_key_id", "FEEDFILTER_STORAGE_ACCESS_KEY_ID")
	v.BindEnv("storage.secret_access_key", "FEEDFILTER_STORAGE_SECRET_ACCESS_KEY")
	v.BindEnv("elasticsearch.enabled", "FEEDFILTER_ELASTICSEARCH_ENABLED")
	v.BindEnv("elasticsearch.index", "FEEDFILTER_ELASTICSEARCH_INDEX")
	v.BindEnv("scanner.debounce", "FEEDFILTER_SCANNER_DEBOUNCE")
	v.BindEnv("fetcher.cookie", "FEEDFILTER_FETCHER_COOKIE")
	v.BindEnv("platform.host", "FEEDFILTER_PLATFORM_HOST")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("config file error", "error", err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		slog.Warn("failed to parse config", "error", err)
	}

	if addrs := os.Getenv("FEEDFILTER_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		c.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}
	return c
}
