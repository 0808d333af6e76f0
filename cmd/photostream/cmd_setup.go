package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/photostream/internal/config"
	"github.com/user/photostream/internal/scheduler"
	"github.com/user/photostream/pkg/photostream"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Photostream Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Endpoint.URL = prompt(scanner, "Stream endpoint URL", cfg.Endpoint.URL)
		cfg.Endpoint.Token = prompt(scanner, "Access token (optional)", cfg.Endpoint.Token)

		if strings.HasPrefix(cfg.Endpoint.URL, "https:") || strings.HasPrefix(cfg.Endpoint.URL, "wss:") {
			mode := prompt(scanner, "Certificate trust (system, ca, insecure)", string(cfg.Endpoint.Trust.Mode))
			cfg.Endpoint.Trust.Mode = photostream.TrustMode(mode)
			if cfg.Endpoint.Trust.Mode == photostream.TrustCA {
				cfg.Endpoint.Trust.CAFile = prompt(scanner, "CA bundle file", cfg.Endpoint.Trust.CAFile)
			}
		}

		cfg.Images.BaseURL = prompt(scanner, "Image base URL (optional)", cfg.Images.BaseURL)
		cfg.Cache.Backend = prompt(scanner, "Cache backend (file, sqlite)", cfg.Cache.Backend)
		for {
			cfg.Cache.PruneSchedule = prompt(scanner, "Cache prune schedule", cfg.Cache.PruneSchedule)
			if cfg.Cache.PruneSchedule == "" {
				break
			}
			err := scheduler.Validate(cfg.Cache.PruneSchedule)
			if err == nil {
				break
			}
			fmt.Println(err)
			cfg.Cache.PruneSchedule = ""
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			chat := ""
			if cfg.Telegram.ChatID != 0 {
				chat = strconv.FormatInt(cfg.Telegram.ChatID, 10)
			}
			if n, err := strconv.ParseInt(prompt(scanner, "Telegram chat ID", chat), 10, 64); err == nil {
				cfg.Telegram.ChatID = n
			}
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
