package mcp

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/optiondesk/optiondesk/desk"
	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/pricing"
)

type ListOptionsTool struct{}

func (*ListOptionsTool) Tool() mcp.Tool {
	return mcp.NewTool("list_options",
		mcp.WithDescription("List option contracts in the catalog, ordered by ticker, expiry, type and strike. Supports pagination."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Description("Case-insensitive substring of the contract symbol or ticker, e.g. 'AMD' or 'P00065'"),
		),
		mcp.WithString("ticker",
			mcp.Description("Only return contracts on this underlying, e.g. 'SPY'"),
		),
		mcp.WithString("security_type",
			mcp.Description("Only return contracts of this type"),
			mcp.Enum("call", "put"),
		),
		mcp.WithNumber("from",
			mcp.Description("Starting index for pagination (0-based). Default: 0"),
			mcp.Min(0),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of contracts to return. If not specified, returns all contracts."),
			mcp.Min(1),
		),
	)
}

func (*ListOptionsTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return PaginatedToolHandler(manager, "list_options", func(ctx context.Context, request mcp.CallToolRequest) ([]securities.Listing, error) {
		var want securities.SecurityType
		if t := request.GetString("security_type", ""); t != "" {
			parsed, err := securities.ParseSecurityType(t)
			if err != nil {
				return nil, ValidationError{Parameter: "security_type", Message: err.Error()}
			}
			want = parsed
		}

		results := manager.Securities.Search(request.GetString("query", ""))
		if ticker := request.GetString("ticker", ""); ticker != "" {
			onTicker, err := manager.Securities.GetByTicker(ticker)
			if err != nil {
				return []securities.Listing{}, nil
			}
			ids := make(map[string]bool, len(onTicker))
			for _, s := range onTicker {
				ids[s.ID()] = true
			}
			results = slices.DeleteFunc(results, func(s securities.Security) bool { return !ids[s.ID()] })
		}
		if want != "" {
			results = slices.DeleteFunc(results, func(s securities.Security) bool { return s.SecurityType != want })
		}

		return securities.Listings(results), nil
	})
}

type GetOptionTool struct{}

func (*GetOptionTool) Tool() mcp.Tool {
	return mcp.NewTool("get_option",
		mcp.WithDescription("Get one option contract by its symbol"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("id",
			mcp.Description("Contract symbol, e.g. AMD200920P00065000"),
			mcp.Required(),
		),
	)
}

func (*GetOptionTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return SimpleToolHandler(manager, "get_option", func(ctx context.Context, request mcp.CallToolRequest) (any, error) {
		sec, err := lookup(manager, request)
		if err != nil {
			return nil, err
		}
		return sec.Listing(), nil
	})
}

type PriceOptionTool struct{}

func (*PriceOptionTool) Tool() mcp.Tool {
	return mcp.NewTool("price_option",
		mcp.WithDescription("Price a catalog option contract with Black-Scholes and return its Greeks"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("id",
			mcp.Description("Contract symbol, e.g. AMD200920P00065000"),
			mcp.Required(),
		),
		mcp.WithNumber("spot",
			mcp.Description("Price of the underlying"),
			mcp.Required(),
		),
		mcp.WithNumber("volatility",
			mcp.Description("Annualized implied volatility, e.g. 0.45"),
			mcp.Required(),
		),
		mcp.WithNumber("rate",
			mcp.Description("Risk-free rate. Defaults to the server rate."),
		),
		mcp.WithString("date",
			mcp.Description("Valuation date (YYYY-MM-DD). Defaults to today."),
		),
	)
}

// PriceResponse is a contract with its quote.
type PriceResponse struct {
	Option securities.Listing  `json:"option"`
	Date   string              `json:"date"`
	Quote  pricing.QuoteResult `json:"quote"`
}

func (*PriceOptionTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return SimpleToolHandler(manager, "price_option", func(ctx context.Context, request mcp.CallToolRequest) (any, error) {
		sec, err := lookup(manager, request)
		if err != nil {
			return nil, err
		}
		spot, err := requirePositive(request, "spot")
		if err != nil {
			return nil, err
		}
		vol, err := requirePositive(request, "volatility")
		if err != nil {
			return nil, err
		}
		on, err := dateArg(request, "date", time.Now())
		if err != nil {
			return nil, err
		}
		rate := request.GetFloat("rate", manager.RiskFreeRate())

		years := pricing.YearFraction(on.Time, sec.Expiry.Time)
		return PriceResponse{
			Option: sec.Listing(),
			Date:   on.String(),
			Quote:  pricing.Quote(pricing.Kind(sec.SecurityType), spot, sec.Strike, years, rate, vol),
		}, nil
	})
}

func lookup(manager *desk.Manager, request mcp.CallToolRequest) (securities.Security, error) {
	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return securities.Security{}, ValidationError{Parameter: "id", Message: "is required"}
	}
	sec, err := manager.Securities.GetByID(id)
	if err != nil {
		return securities.Security{}, fmt.Errorf("option %s not found", id)
	}
	return sec, nil
}

func requirePositive(request mcp.CallToolRequest, key string) (float64, error) {
	v, err := request.RequireFloat(key)
	if err != nil {
		return 0, ValidationError{Parameter: key, Message: "is required"}
	}
	if !(v > 0) {
		return 0, ValidationError{Parameter: key, Message: "must be positive"}
	}
	return v, nil
}

func dateArg(request mcp.CallToolRequest, key string, fallback time.Time) (securities.Date, error) {
	s := request.GetString(key, "")
	if s == "" {
		return securities.DateOf(fallback), nil
	}
	d, err := securities.ParseDate(s)
	if err != nil {
		return securities.Date{}, ValidationError{Parameter: key, Message: "must be a YYYY-MM-DD date"}
	}
	return d, nil
}
