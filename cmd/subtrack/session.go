package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored credentials",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a session is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds := application.Credentials
		return printJSON(cmd, map[string]interface{}{
			"authenticated": creds.IsAuthenticated(),
			"refreshable":   creds.GetRefresh() != "",
			"privileged":    creds.IsPrivileged(),
			"user":          creds.GetUser(),
		})
	},
}

var sessionSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store credentials obtained from a sign-in",
	Long: `Store credentials obtained from a sign-in.

Examples:
  subtrack session set --access eyJ... --refresh r-123 --user '{"id":1,"role":"user"}'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		access, _ := cmd.Flags().GetString("access")
		refresh, _ := cmd.Flags().GetString("refresh")
		userJSON, _ := cmd.Flags().GetString("user")

		var user *entity.User
		if userJSON != "" {
			user = &entity.User{}
			if err := json.Unmarshal([]byte(userJSON), user); err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
		}

		return application.Credentials.SetSession(access, user, refresh)
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Sign out: drop stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.Logout()
	},
}

var currencyCmd = &cobra.Command{
	Use:   "currency",
	Short: "Show or change the preferred display currency",
}

var currencyGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the preferred currency",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), application.Preferences.PreferredCurrency())
	},
}

var currencySetCmd = &cobra.Command{
	Use:   "set [code]",
	Short: "Store the preferred currency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.Preferences.SetPreferredCurrency(args[0])
	},
}

func init() {
	sessionSetCmd.Flags().String("access", "", "access credential")
	sessionSetCmd.Flags().String("refresh", "", "refresh credential (omit to store a non-refreshable session)")
	sessionSetCmd.Flags().String("user", "", "user record as JSON")
	_ = sessionSetCmd.MarkFlagRequired("access")

	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionSetCmd)
	sessionCmd.AddCommand(sessionClearCmd)

	currencyCmd.AddCommand(currencyGetCmd)
	currencyCmd.AddCommand(currencySetCmd)
}
