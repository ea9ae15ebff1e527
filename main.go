package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/optiondesk/optiondesk/app"
	"github.com/optiondesk/optiondesk/desk"
	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/pricing"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "v0.0.0"

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			fmt.Fprintf(os.Stderr, "ignoring invalid LOG_LEVEL %q\n", s)
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	logger := newLogger()

	root := &cobra.Command{
		Use:           "optiondesk",
		Short:         "Option catalog, pricing and portfolio tools over HTTP and MCP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(logger)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP and MCP server (configured from the environment)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(logger)
			},
		},
		catalogCommand(logger),
		priceCommand(),
	)

	if err := root.Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func serve(logger *slog.Logger) error {
	application := app.NewApp(logger)
	application.SetVersion(version)
	if err := application.LoadConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return application.RunServer()
}

func catalogCommand(logger *slog.Logger) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the securities catalog",
	}

	var query string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the configured catalog to stdout as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.NewApp(logger)
			if err := application.LoadConfig(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			secs, err := securities.New(securities.Config{
				Source: application.CatalogSource(),
				Logger: logger,
			})
			if err != nil {
				return err
			}
			defer secs.Shutdown()
			return securities.WriteCSV(cmd.OutOrStdout(), secs.Search(query))
		},
	}
	export.Flags().StringVarP(&query, "query", "q", "", "only export contracts whose symbol or ticker contains this text")

	catalog.AddCommand(export)
	return catalog
}

func priceCommand() *cobra.Command {
	var (
		kind         string
		spot, strike float64
		vol, rate    float64
		expiry, on   string
	)

	cmd := &cobra.Command{
		Use:     "price",
		Short:   "Print a Black-Scholes quote for one contract",
		Example: "  optiondesk price --type put --spot 60 --strike 65 --vol 0.5 --expiry 2020-09-20 --date 2020-08-12",
		RunE: func(cmd *cobra.Command, args []string) error {
			secType, err := securities.ParseSecurityType(kind)
			if err != nil {
				return err
			}
			if !(spot > 0) || !(strike > 0) || !(vol > 0) {
				return fmt.Errorf("spot, strike and vol must be positive")
			}
			exp, err := securities.ParseDate(expiry)
			if err != nil {
				return fmt.Errorf("--expiry: %w", err)
			}
			today := securities.DateOf(time.Now())
			if on != "" {
				if today, err = securities.ParseDate(on); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}

			years := pricing.YearFraction(today.Time, exp.Time)
			quote := pricing.Quote(pricing.Kind(secType), spot, strike, years, rate, vol)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(quote)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&kind, "type", "call", "contract type: "+strings.Join([]string{string(securities.Call), string(securities.Put)}, " or "))
	flags.Float64Var(&spot, "spot", 0, "price of the underlying")
	flags.Float64Var(&strike, "strike", 0, "strike price")
	flags.Float64Var(&vol, "vol", 0, "annualized volatility, e.g. 0.45")
	flags.Float64Var(&rate, "rate", desk.DefaultRiskFreeRate, "risk-free rate")
	flags.StringVar(&expiry, "expiry", "", "expiry date (YYYY-MM-DD)")
	flags.StringVar(&on, "date", "", "valuation date (YYYY-MM-DD), defaults to today")
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strike")
	_ = cmd.MarkFlagRequired("vol")
	_ = cmd.MarkFlagRequired("expiry")

	return cmd
}
