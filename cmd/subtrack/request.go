package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/damon-houk/subtrack-client/internal/infrastructure/api"
)

var requestCmd = &cobra.Command{
	Use:   "request [method] [path]",
	Short: "Send an authenticated request to the backend",
	Long: `Send an authenticated JSON request to the backend. An expired access
credential is refreshed once and the request replayed.

Examples:
  subtrack request GET /subscriptions
  subtrack request POST /subscriptions --data '{"name":"Music","amount":4.99,"currency":"GBP"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := strings.ToUpper(args[0])

		var body interface{}
		if data, _ := cmd.Flags().GetString("data"); data != "" {
			raw := json.RawMessage(data)
			if !json.Valid(raw) {
				return fmt.Errorf("--data is not valid JSON")
			}
			body = raw
		}

		result, err := api.Call[json.RawMessage](cmd.Context(), application.Gateway, method, args[1], body)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
		return printJSON(cmd, result)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload [path]",
	Short: "Send an authenticated multipart upload",
	Long: `Send an authenticated multipart upload.

Examples:
  subtrack upload /uploads --field subscription_id=2 --file receipt=./receipt.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, _ := cmd.Flags().GetStringToString("field")
		files, _ := cmd.Flags().GetStringToString("file")

		form := api.UploadForm{Fields: fields}
		for field, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			form.Files = append(form.Files, api.UploadFile{
				Field:    field,
				Filename: filepath.Base(path),
				Data:     data,
			})
		}

		var out json.RawMessage
		if err := application.Gateway.Upload(cmd.Context(), args[0], form, &out); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		return printJSON(cmd, out)
	},
}

var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "List, add and total subscriptions",
}

var subscriptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := application.Subscriptions.ListSubscriptions(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, subs)
	},
}

var subscriptionsAddCmd = &cobra.Command{
	Use:   "add [name] [amount] [currency]",
	Short: "Add a subscription",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		sub, err := application.Subscriptions.CreateSubscription(cmd.Context(), args[0], amount, args[2])
		if err != nil {
			return err
		}
		return printJSON(cmd, sub)
	},
}

var subscriptionsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		return application.Subscriptions.DeleteSubscription(cmd.Context(), id)
	},
}

var subscriptionsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Total subscription spend in one currency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		currency, _ := cmd.Flags().GetString("currency")
		summary, err := application.Subscriptions.Summary(cmd.Context(), currency)
		if err != nil {
			return err
		}
		return printJSON(cmd, summary)
	},
}

func init() {
	requestCmd.Flags().String("data", "", "JSON request body")

	uploadCmd.Flags().StringToString("field", nil, "form field as key=value (repeatable)")
	uploadCmd.Flags().StringToString("file", nil, "file part as field=path (repeatable)")

	subscriptionsSummaryCmd.Flags().String("currency", "", "currency to total in (default: preferred currency)")

	subscriptionsCmd.AddCommand(subscriptionsListCmd)
	subscriptionsCmd.AddCommand(subscriptionsAddCmd)
	subscriptionsCmd.AddCommand(subscriptionsDeleteCmd)
	subscriptionsCmd.AddCommand(subscriptionsSummaryCmd)
}
