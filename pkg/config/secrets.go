package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// secretsBaseName is looked up next to the config file, with the config
// file's own extension first.
const secretsBaseName = "secrets"

var secretsExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// mergeSecrets layers an optional secrets file (Redis URLs with passwords,
// AWS keys, SQL DSNs) over the config file. Environment variables still win
// over both.
func (l *ViperLoader) mergeSecrets(v *viper.Viper) error {
	path, err := l.secretsFile()
	if err != nil || path == "" {
		return err
	}

	secrets := viper.New()
	secrets.SetConfigFile(path)
	if err := secrets.ReadInConfig(); err != nil {
		return fmt.Errorf("read secrets file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(secrets.AllSettings()); err != nil {
		return fmt.Errorf("merge secrets file %s: %w", path, err)
	}
	return nil
}

// secretsFile returns <PREFIX>_SECRETS_FILE when set, which must name a
// readable file, or else the first secrets.* file beside the config file.
func (l *ViperLoader) secretsFile() (string, error) {
	envName := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(envName); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%w: %s is set but empty", ErrInvalidConfig, envName)
		}
		info, err := os.Stat(path)
		switch {
		case err != nil:
			return "", fmt.Errorf("%w: %s points to %s: %w", ErrInvalidConfig, envName, path, err)
		case info.IsDir():
			return "", fmt.Errorf("%w: %s points to directory %s", ErrInvalidConfig, envName, path)
		}
		return path, nil
	}

	if l.configFile == "" {
		return "", nil
	}
	dir := filepath.Dir(l.configFile)
	exts := append([]string{filepath.Ext(l.configFile)}, secretsExtensions...)
	for _, ext := range exts {
		if ext == "" {
			continue
		}
		candidate := filepath.Join(dir, secretsBaseName+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", nil
}
