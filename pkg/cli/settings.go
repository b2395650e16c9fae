package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/version"
)

const redacted = "***"

// secretSettingKeys are leaf keys whose values never leave the process
// unless --show-secrets is given.
var secretSettingKeys = map[string]bool{
	"access_key_id":     true,
	"secret_access_key": true,
	"session_token":     true,
	"dsn":               true,
}

func newVersionCommand(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(s.opts.Name)
			out := cmd.OutOrStdout()
			switch strings.ToLower(output) {
			case "json":
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			case "", "text":
				fmt.Fprintf(out, "Service:    %s\n", info.Service)
				fmt.Fprintf(out, "Version:    %s\n", info.Version)
				fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
				fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
				fmt.Fprintf(out, "Go:         %s %s\n", info.GoVersion, info.Platform)
			default:
				return fmt.Errorf("unsupported output format %q", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json)")
	SetCommandPolicy(cmd, PolicyAlways)
	return cmd
}

func newConfigCommand(s *session) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	SetCommandPolicy(configCmd, PolicyAlways)

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewViperLoader(s.cfgPath, s.opts.EnvPrefix).
				WithServiceNameDefault(s.opts.Name).
				WithFlags(cmd.Flags())
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d tubes: %s)\n", len(cfg.Queue.Tubes), strings.Join(cfg.Queue.Tubes, ", "))
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewViperLoader(s.cfgPath, s.opts.EnvPrefix).
				WithServiceNameDefault(s.opts.Name).
				WithFlags(cmd.Flags())
			if _, err := loader.Load(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			settings := loader.AllSettings()
			if !showSecrets {
				settings = redactSettings(settings)
			}
			formatted, err := formatSettings(settings)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)
	return configCmd
}

func formatSettings(settings map[string]any) (string, error) {
	if len(settings) == 0 {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// redactSettings masks secret keys and URL passwords, recursing into
// nested sections.
func redactSettings(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		out[key] = redactSettingValue(key, value)
	}
	return out
}

func redactSettingValue(key string, value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSettings(typed)
	case string:
		if typed == "" {
			return typed
		}
		if secretSettingKeys[strings.ToLower(key)] {
			return redacted
		}
		if strings.HasSuffix(strings.ToLower(key), "url") {
			return redactURL(typed)
		}
		return typed
	default:
		return value
	}
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return raw
	}
	parsed.User = url.UserPassword(parsed.User.Username(), redacted)
	return parsed.String()
}
