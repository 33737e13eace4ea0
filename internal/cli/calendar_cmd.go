package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/config"
)

func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Manage the clinic calendar connection",
	}

	cmd.AddCommand(newCalendarAuthCmd())
	return cmd
}

// newCalendarAuthCmd runs the interactive OAuth consent flow and stores
// the resulting token for the serve command.
func newCalendarAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to the clinic's Google Calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if cfg.Calendar.CredentialsFile == "" {
				return fmt.Errorf("calendar.credentialsFile is not configured")
			}

			url, oauthCfg, err := calendar.AuthURL(cfg.Calendar.CredentialsFile)
			if err != nil {
				return err
			}

			fmt.Printf("Open this URL in a browser and authorize access:\n\n  %s\n\n", url)
			fmt.Print("Paste the authorization code here: ")

			reader := bufio.NewReader(os.Stdin)
			code, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading authorization code: %w", err)
			}
			code = strings.TrimSpace(code)
			if code == "" {
				return fmt.Errorf("empty authorization code")
			}

			token, err := oauthCfg.Exchange(context.Background(), code)
			if err != nil {
				return fmt.Errorf("exchanging authorization code: %w", err)
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			tokenFile := cfg.Calendar.TokenFile
			if tokenFile == "" {
				tokenFile = filepath.Join(paths.Credentials, "calendar_token.json")
			}
			if err := calendar.SaveToken(tokenFile, token); err != nil {
				return err
			}

			fmt.Printf("Token saved to %s\n", tokenFile)
			return nil
		},
	}
}
