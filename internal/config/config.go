package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Category is one asset category joined into its own container.
type Category struct {
	// Name is also the container name (<name>.zip).
	Name string `mapstructure:"name"`
	// Manifest is the logical path of the JSON list of source sub-archives.
	Manifest string `mapstructure:"manifest"`
	// AssetLists are logical paths of asset lists declaring md5 checksums
	// for the entries of this category.
	AssetLists []string `mapstructure:"asset_lists"`
}

type Config struct {
	StoreDir     string            `mapstructure:"store_dir"`
	LegacyDir    string            `mapstructure:"legacy_dir"`
	StagingDir   string            `mapstructure:"staging_dir"`
	Catalog      string            `mapstructure:"catalog"`
	AssetPrefix  string            `mapstructure:"asset_prefix"`
	WebContainer string            `mapstructure:"web_container"`
	WebManifest  string            `mapstructure:"web_manifest"`
	Categories   []Category        `mapstructure:"categories"`
	Known404     []string          `mapstructure:"known_404"`
	ContentTypes map[string]string `mapstructure:"content_types"`
	BuildWorkers int               `mapstructure:"build_workers"`
	LogLevel     string            `mapstructure:"log_level"`
	LogFormat    string            `mapstructure:"log_format"`
}

// DefaultAssetPrefix is the URL prefix the client puts in front of asset paths.
const DefaultAssetPrefix = "magica/resource/download/asset/master/resource/"

// Load initializes and loads configuration from file
func Load(cfgFile string) (*Config, error) {
	// Set defaults
	viper.SetDefault("store_dir", "zipped_assets")
	viper.SetDefault("legacy_dir", "static")
	viper.SetDefault("staging_dir", "static_staging")
	viper.SetDefault("catalog", "staging.db")
	viper.SetDefault("asset_prefix", DefaultAssetPrefix)
	viper.SetDefault("web_container", "web_res")
	viper.SetDefault("web_manifest", "")
	viper.SetDefault("build_workers", 2)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	// Config file handling
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName("magiarchive")
		viper.SetConfigType("yaml")
	}

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateCategories(cfg.Categories, cfg.WebContainer); err != nil {
		return nil, fmt.Errorf("invalid category configuration: %w", err)
	}

	if err := validateContentTypes(cfg.ContentTypes); err != nil {
		return nil, fmt.Errorf("invalid content type configuration: %w", err)
	}

	cfg.ContentTypes = mergeContentTypes(cfg.ContentTypes)

	if cfg.BuildWorkers < 1 {
		cfg.BuildWorkers = 1
	}

	return &cfg, nil
}
