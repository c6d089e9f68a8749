// Package commands – config.go manages secrets and shows effective config.
// Keys are stored in the OS keyring so they never sit in the config file.
package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "maru"
	keyringAPIKey  = "api_key"
	keyringTGToken = "telegram_token"
)

// newConfigCmd creates the `maru config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
	}
	cmd.AddCommand(newSetKeyCmd(), newSetTokenCmd(), newShowCmd())
	return cmd
}

func newSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		RunE: func(*cobra.Command, []string) error {
			key, err := readSecret("API key: ")
			if err != nil {
				return err
			}
			if err := keyring.Set(keyringService, keyringAPIKey, key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Println("API key stored in keyring.")
			return nil
		},
	}
}

func newSetTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token",
		Short: "Store the Telegram bot token in the OS keyring",
		RunE: func(*cobra.Command, []string) error {
			token, err := readSecret("Telegram bot token: ")
			if err != nil {
				return err
			}
			if err := keyring.Set(keyringService, keyringTGToken, token); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}
			fmt.Println("Telegram token stored in keyring.")
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Printf("name: %s\n", cfg.Name)
			fmt.Printf("model: %s (small: %s)\n", cfg.Model, cfg.SmallModel)
			fmt.Printf("timezone: %s\n", cfg.Timezone)
			fmt.Printf("data_dir: %s\n", cfg.DataDir)
			fmt.Printf("api.base_url: %s\n", cfg.API.BaseURL)
			fmt.Printf("api.api_key: %s\n", mask(cfg.API.APIKey))
			fmt.Printf("telegram.token: %s\n", mask(cfg.Telegram.Token))
			fmt.Printf("allowed_chats: %v\n", cfg.Access.AllowedChats)
			fmt.Printf("memory.enabled: %v\n", cfg.Memory.Enabled)
			return nil
		},
	}
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("empty value")
	}
	return value, nil
}

func mask(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// resolveSecrets fills missing secrets from the keyring. Config and
// environment take precedence; the keyring is the fallback.
func resolveSecrets(apiKey, tgToken *string) {
	if *apiKey == "" {
		if v, err := keyring.Get(keyringService, keyringAPIKey); err == nil {
			*apiKey = v
		}
	}
	if *tgToken == "" {
		if v, err := keyring.Get(keyringService, keyringTGToken); err == nil {
			*tgToken = v
		}
	}
}
