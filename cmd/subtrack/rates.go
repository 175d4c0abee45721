package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Resolve and cache exchange rates",
}

var ratesResolveCmd = &cobra.Command{
	Use:   "resolve [currency...]",
	Short: "Resolve conversion factors from each currency into the target",
	Long: `Resolve conversion factors from each source currency into the target.
Cached rates are served directly; all misses are filled by one request.

Examples:
  subtrack rates resolve EUR GBP JPY
  subtrack rates resolve --to EUR USD GBP`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("to")
		if target == "" {
			target = application.Preferences.PreferredCurrency()
		}
		return printJSON(cmd, application.Resolver.ResolveMany(cmd.Context(), args, target))
	},
}

var ratesPairCmd = &cobra.Command{
	Use:   "pair [base] [target]",
	Short: "Resolve a single conversion factor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := application.Resolver.ResolveOne(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(rate, 'f', -1, 64))
		return nil
	},
}

var ratesConvertCmd = &cobra.Command{
	Use:   "convert [amount] [from] [to]",
	Short: "Convert an amount between currencies",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}
		conv, err := application.Resolver.Convert(cmd.Context(), amount, args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(cmd, conv)
	},
}

var ratesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached rate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.RateCache.Clear()
	},
}

func init() {
	ratesResolveCmd.Flags().String("to", "", "target currency (default: preferred currency)")

	ratesCmd.AddCommand(ratesResolveCmd)
	ratesCmd.AddCommand(ratesPairCmd)
	ratesCmd.AddCommand(ratesConvertCmd)
	ratesCmd.AddCommand(ratesClearCmd)
}
