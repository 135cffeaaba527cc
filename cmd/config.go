package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// config holds CLI defaults loaded from an optional config file and
// environment variables. The passphrase is deliberately excluded from
// this surface: it is sourced only from --passphrase or the
// IBACKUPCRYPT_PASSPHRASE environment variable, never from a config file
// that might end up committed to a repository.
type config struct {
	DefaultOutputFormat string `mapstructure:"default_output_format"`
}

func initConfig() {
	viper.SetConfigName("ibackupcrypt")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.ibackupcrypt")
	viper.AddConfigPath("/etc/ibackupcrypt")

	viper.SetDefault("default_output_format", "table")

	viper.SetEnvPrefix("IBACKUPCRYPT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "warning: error reading config file: %v\n", err)
		}
	}
}

func loadConfig() (*config, error) {
	var c config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &c, nil
}

// resolvePassphrase returns the passphrase from --passphrase if set,
// otherwise from IBACKUPCRYPT_PASSPHRASE, otherwise an error.
func resolvePassphrase(flagValue string) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	if v := os.Getenv("IBACKUPCRYPT_PASSPHRASE"); v != "" {
		return []byte(v), nil
	}
	return nil, fmt.Errorf("no passphrase supplied: set --passphrase or IBACKUPCRYPT_PASSPHRASE")
}
