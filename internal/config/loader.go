package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type EnvMap struct {
	EnvMappings map[string]string `mapstructure:"env_mappings,omitempty"`
}

type SecretMap struct {
	Dir      string            `mapstructure:"dir,omitempty"`
	Mappings map[string]string `mapstructure:"mappings,omitempty"`
}

var localMode = flag.Bool("local", false, "Run against a local Docker daemon instead of a cluster.")

// readConfig locates and reads a configuration file using Viper. It searches for
// a file named "{name}.{ext}" in each of the given directories in order; the first
// found file is read. The returned Viper instance contains the parsed config and
// can be used for further unmarshaling or env binding.
//
// Parameters:
//   - logger: Logger for config load messages (success and failure).
//   - name: Config file base name without extension (e.g., "config").
//   - ext: Config file extension/type (e.g., "yaml"); used by Viper as config type.
//   - dirs: One or more directories to search for the file; first match wins.
//
// Returns:
//   - *viper.Viper: Viper instance with the config loaded, or a new Viper if no file was read.
//   - error: Non-nil if no config file was found in any dir or if reading failed.
func readConfig(logger *slog.Logger, name string, ext string, dirs ...string) (*viper.Viper, error) {
	logger.Info("Reading the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs))

	configValues := viper.New()

	configValues.SetConfigName(name) // name of config file (without extension)
	configValues.SetConfigType(ext)  // REQUIRED if the config file does not have the extension in the name
	for _, dir := range dirs {
		configValues.AddConfigPath(dir)
	}
	err := configValues.ReadInConfig() // Find and read the config file

	if err != nil {
		logger.Error("Failed to read the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs), "error", err.Error())
	} else {
		logger.Info("Read the configuration file", "file", configValues.ConfigFileUsed())
	}

	return configValues, err
}

// mergeOperatorConfig layers an operator-mounted config file (CONFIG_PATH) on top
// of the bundled configuration. Scalar and map values are deep-merged, except the
// secrets section which is replaced wholesale: bundled secret mappings must not be
// able to demand secret files the operator deployment no longer mounts.
func mergeOperatorConfig(logger *slog.Logger, configValues *viper.Viper, path string) error {
	logger.Info("Merging operator configuration", "file", path)

	override := viper.New()
	override.SetConfigFile(path)
	if err := override.ReadInConfig(); err != nil {
		logger.Error("Failed to read the operator configuration", "file", path, "error", err.Error())
		return err
	}
	if err := configValues.MergeConfigMap(override.AllSettings()); err != nil {
		return err
	}
	if override.IsSet("secrets") {
		configValues.Set("secrets", override.Get("secrets"))
	}
	return nil
}

// LoadConfig loads configuration using a tiered system with Viper. This implements
// a cascading loading strategy that supports multiple sources.
//
// Configuration loading order (later sources override earlier ones):
//  1. config.yaml found in the given dirs (defaults to config/) - bundled configuration
//  2. Operator overrides - a config file pointed at by the CONFIG_PATH environment
//     variable is merged on top of the bundled file
//  3. Environment variables - mapped via the env_mappings configuration section
//  4. Secrets from files - mapped via secrets.mappings with secrets.dir
//
// Configuration supports:
//   - Environment variable mapping: define in env_mappings (e.g., PORT → service.port)
//   - Secrets from files: define in secrets.mappings with secrets.dir (e.g., /tmp/db_password → database.password)
//   - Optional secrets: append :optional to the secret file name to mark it as optional.
//     If an optional secret file doesn't exist, no error is logged and the configuration
//     continues loading without that secret value.
//
// Example configuration structure:
//
//	env_mappings:
//	  port: service.port
//	secrets:
//	  dir: /tmp
//	  mappings:
//	    db_password: database.password
//	    api_token:optional: tracker.token
//
// Parameters:
//   - logger: The logger for configuration loading messages
//   - version, build, buildDate: Build identification stamped onto the service config
//   - dirs: Directories to search for config.yaml; defaults to the standard locations
//
// Returns:
//   - *Config: The loaded configuration with all sources applied
//   - error: An error if configuration cannot be loaded or is invalid
func LoadConfig(logger *slog.Logger, version string, build string, buildDate string, dirs ...string) (*Config, error) {
	if len(dirs) == 0 {
		dirs = []string{"config", "./config", "../../config"}
	}
	configValues, err := readConfig(logger, "config", "yaml", dirs...)
	if err != nil {
		return nil, err
	}

	// layer the operator-mounted config on top of the bundled one
	if overridePath := os.Getenv("CONFIG_PATH"); overridePath != "" {
		if err := mergeOperatorConfig(logger, configValues, overridePath); err != nil {
			return nil, err
		}
	}

	// set up the secrets from the secrets directory
	secrets := SecretMap{}
	if err := configValues.UnmarshalKey("secrets", &secrets); err != nil {
		return nil, err
	}
	if secrets.Dir != "" {
		// check that the secrets directory exists
		if _, err := os.Stat(secrets.Dir); !os.IsNotExist(err) {
			for fileName, fieldName := range secrets.Mappings {
				// the secret file name can be optional by appending :optional to the file name
				optional := strings.HasSuffix(fileName, ":optional")
				if optional {
					fileName = strings.TrimSuffix(fileName, ":optional")
				}
				secret, err := getSecret(secrets.Dir, fileName, optional)
				if err != nil {
					// log the error and fail the startup (by returning the error)
					logger.Error("Failed to read secret file", "file", fmt.Sprintf("%s/%s", secrets.Dir, fileName), "error", err.Error())
					return nil, err
				}
				if secret != "" {
					configValues.Set(fieldName, secret)
				}
			}
		}
	}
	// set up the environment variable mappings
	envMappings := EnvMap{}
	if err := configValues.Unmarshal(&envMappings); err != nil {
		return nil, err
	}
	for envName, field := range envMappings.EnvMappings {
		configValues.BindEnv(field, strings.ToUpper(envName))
		logger.Info("Mapped environment variable", "field_name", field, "env_name", envName)
	}

	if !flag.Parsed() {
		flag.Parse()
	}

	conf := Config{}
	if err := configValues.Unmarshal(&conf); err != nil {
		return nil, err
	}

	// set the version, build, and build date
	conf.Service.Version = version
	conf.Service.Build = build
	conf.Service.BuildDate = buildDate
	conf.Service.LocalMode = *localMode
	return &conf, nil
}

// getSecret reads a secret from a file and returns the value as a string.
// If the file does not exist and optional is true, it silently returns an empty
// string. Any other read failure is returned to the caller.
//
// Parameters:
//   - secretsDir: The directory containing the secret files
//   - secretName: The name of the secret file
//   - optional: If true, a missing file is not an error
//
// Returns:
//   - string: The value of the secret, or empty string if an optional file is absent
//   - error: Non-nil when a required secret is missing or unreadable
func getSecret(secretsDir string, secretName string, optional bool) (string, error) {
	// this is the full name of the secrets file to read
	secret, err := os.ReadFile(fmt.Sprintf("%s/%s", secretsDir, secretName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && optional {
			return "", nil
		}
		return "", err
	}
	return string(secret), nil
}
