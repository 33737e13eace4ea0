package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show frontdesk status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Frontdesk %s\n\n", version.Version)

			// Show paths
			fmt.Printf("Config:    %s\n", paths.Config)
			fmt.Printf("Data:      %s\n", paths.Data)
			fmt.Printf("Knowledge: %s\n", paths.Knowledge)
			fmt.Println()

			// Load config
			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:    not found (using defaults)")
				} else {
					fmt.Printf("Config:    error loading: %v\n", err)
				}
				return nil
			}

			fmt.Printf("Gateway:   port=%d bind=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind)
			fmt.Printf("NLU:       provider=%s model=%s\n", cfg.NLU.Provider, cfg.NLU.Model)
			fmt.Printf("Calendar:  provider=%s\n", cfg.Calendar.Provider)
			fmt.Printf("Messaging: provider=%s channel=%s\n", cfg.Messaging.Provider, cfg.Reminder.Channel)
			fmt.Printf("Reminders: offsets=%s scan=%ds\n",
				strings.Join(cfg.Reminder.Offsets, ","), cfg.Reminder.ScanSeconds)

			if cfg.Mail != nil {
				fmt.Printf("Mail:      host=%s mailbox=%s poll=%ds\n",
					cfg.Mail.Host, cfg.Mail.Mailbox, cfg.Mail.PollSeconds)
			} else {
				fmt.Println("Mail:      (not configured)")
			}

			if cfg.Alert.IRC != nil {
				irc := cfg.Alert.IRC
				fmt.Printf("Alerts:    irc server=%s nick=%s channel=%s tls=%v\n",
					irc.Server, irc.Nick, irc.Channel, irc.UseTLS)
			} else {
				fmt.Println("Alerts:    (not configured)")
			}

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
