package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFlagName = "config"

// EnvPrefix prefixes environment variables, e.g. CPEER_MQTT_BROKER.
const EnvPrefix = "CPEER"

var cfgFile string

// addConfigFlag registers --config and prepares viper to read the file and
// the environment.
func addConfigFlag(basename string, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from the specified YAML file.")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType("yaml")
	viper.SetConfigName(basename)
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".cpeer"))
	}
	viper.AddConfigPath("/etc/cpeer")
}

// readConfig loads the configuration file. A missing file is only an error
// when it was requested explicitly.
func readConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read configuration file(%s): %w", cfgFile, err)
	}
	return nil
}
