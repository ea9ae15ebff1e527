package mcp

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/optiondesk/optiondesk/desk"
	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/portfolio"
	"github.com/optiondesk/optiondesk/pricing"
)

// distributionWidth is the number of standard deviations on each side of
// spot covered by the price distribution.
const distributionWidth = 4

type AddToPortfolioTool struct{}

func (*AddToPortfolioTool) Tool() mcp.Tool {
	return mcp.NewTool("add_to_portfolio",
		mcp.WithDescription("Add a catalog option contract to this session's draft portfolio"),
		mcp.WithString("id",
			mcp.Description("Contract symbol, e.g. AMD200920P00065000"),
			mcp.Required(),
		),
		mcp.WithNumber("weight",
			mcp.Description("Position weight; negative for a short. Defaults to the catalog weight."),
		),
	)
}

func (*AddToPortfolioTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return draftToolHandler(manager, "add_to_portfolio", func(ctx context.Context, request mcp.CallToolRequest, draft *desk.Draft) (any, error) {
		sec, err := lookup(manager, request)
		if err != nil {
			return nil, err
		}
		if w, ok := request.GetArguments()["weight"]; ok && w != nil {
			sec.Weight = request.GetFloat("weight", sec.Weight)
		}
		size, err := draft.Add(sec)
		if err != nil {
			return nil, ValidationError{Parameter: "id", Message: err.Error()}
		}
		return map[string]any{"added": sec.Listing(), "size": size}, nil
	})
}

type GetPortfolioTool struct{}

func (*GetPortfolioTool) Tool() mcp.Tool {
	return mcp.NewTool("get_portfolio",
		mcp.WithDescription("Show the contracts in this session's draft portfolio"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func (*GetPortfolioTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return draftToolHandler(manager, "get_portfolio", func(ctx context.Context, request mcp.CallToolRequest, draft *desk.Draft) (any, error) {
		return securities.Listings(draft.Items()), nil
	})
}

type ClearPortfolioTool struct{}

func (*ClearPortfolioTool) Tool() mcp.Tool {
	return mcp.NewTool("clear_portfolio",
		mcp.WithDescription("Remove every contract from this session's draft portfolio"),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func (*ClearPortfolioTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return draftToolHandler(manager, "clear_portfolio", func(ctx context.Context, request mcp.CallToolRequest, draft *desk.Draft) (any, error) {
		return map[string]int{"removed": draft.Clear()}, nil
	})
}

type ValuePortfolioTool struct{}

func (*ValuePortfolioTool) Tool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Value this session's draft portfolio: its cost today and its expected value at the horizon under a normal price distribution centred on spot"),
		mcp.WithReadOnlyHintAnnotation(true),
	}
	return mcp.NewTool("value_portfolio", append(opts, scenarioOptions()...)...)
}

// Valuation is the result of value_portfolio.
type Valuation struct {
	Legs          []portfolio.Leg `json:"legs"`
	Today         string          `json:"today"`
	Horizon       string          `json:"horizon"`
	Volatility    float64         `json:"volatility"`
	ExpectedPrice float64         `json:"expected_price"`
	PriceStd      float64         `json:"price_std"`
	Cost          float64         `json:"cost"`
	ExpectedValue float64         `json:"expected_value"`
	Delta         float64         `json:"delta"`
	ROI           *float64        `json:"roi,omitempty"`
}

func (*ValuePortfolioTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return draftToolHandler(manager, "value_portfolio", func(ctx context.Context, request mcp.CallToolRequest, draft *desk.Draft) (any, error) {
		items := draft.Items()
		if len(items) == 0 {
			return nil, errors.New("draft portfolio is empty; add contracts with add_to_portfolio")
		}

		scenario, err := scenarioFromRequest(manager, request, items[0].Ticker)
		if err != nil {
			return nil, err
		}

		p := portfolio.FromSecurities(items, scenario.Rate)
		v := Valuation{
			Legs:          p.Legs,
			Today:         securities.DateOf(scenario.Today).String(),
			Horizon:       securities.DateOf(scenario.Horizon).String(),
			Volatility:    scenario.Volatility,
			ExpectedPrice: scenario.Distribution.Mean(),
			PriceStd:      scenario.Distribution.StdDev(),
			Cost:          p.Cost(scenario.Spot, scenario.Today, scenario.Volatility),
			ExpectedValue: p.Value(scenario.Distribution, scenario.Horizon, scenario.Volatility),
			Delta:         p.Delta(scenario.Spot, scenario.Today, scenario.Volatility),
		}
		if roi, err := p.ROI(scenario); err == nil {
			v.ROI = &roi
		}
		return v, nil
	})
}

type OptimizePortfolioTool struct{}

func (*OptimizePortfolioTool) Tool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Search for the weights, strikes and expiries of a portfolio with the given leg types that maximize expected return on investment at the horizon"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("ticker",
			mcp.Description("Underlying ticker"),
			mcp.Required(),
		),
		mcp.WithArray("types",
			mcp.Description("Leg types of the portfolio, e.g. ['put', 'call', 'equity']"),
			mcp.Required(),
			mcp.Items(map[string]any{
				"type": "string",
				"enum": []string{"call", "put", "equity"},
			}),
		),
		mcp.WithNumber("restarts",
			mcp.Description("Random starting portfolios to try. Default: 20"),
			mcp.Min(1),
			mcp.Max(portfolio.MaxRestarts),
		),
		mcp.WithNumber("seed",
			mcp.Description("Seed for the random starting portfolios"),
		),
	}
	return mcp.NewTool("optimize_portfolio", append(opts, scenarioOptions()...)...)
}

func (*OptimizePortfolioTool) Handler(manager *desk.Manager) server.ToolHandlerFunc {
	return SimpleToolHandler(manager, "optimize_portfolio", func(ctx context.Context, request mcp.CallToolRequest) (any, error) {
		ticker, err := request.RequireString("ticker")
		if err != nil || strings.TrimSpace(ticker) == "" {
			return nil, ValidationError{Parameter: "ticker", Message: "is required"}
		}
		rawTypes, err := request.RequireStringSlice("types")
		if err != nil || len(rawTypes) == 0 {
			return nil, ValidationError{Parameter: "types", Message: "needs at least one leg type"}
		}

		scenario, err := scenarioFromRequest(manager, request, strings.ToUpper(ticker))
		if err != nil {
			return nil, err
		}

		start := portfolio.Portfolio{Rate: scenario.Rate}
		for _, raw := range rawTypes {
			t, err := portfolio.ParseLegType(raw)
			if err != nil {
				return nil, ValidationError{Parameter: "types", Message: err.Error()}
			}
			if t == portfolio.LegEquity {
				start.Legs = append(start.Legs, portfolio.EquityLeg(scenario.Ticker, 1))
				continue
			}
			start.Legs = append(start.Legs, portfolio.Leg{
				Type:   t,
				Ticker: scenario.Ticker,
				Strike: scenario.Spot,
				Expiry: scenario.Horizon,
				Weight: 1,
			})
		}

		return portfolio.Optimize(ctx, start, scenario, portfolio.Options{
			Restarts: min(request.GetInt("restarts", portfolio.DefaultRestarts), portfolio.MaxRestarts),
			Seed:     uint64(request.GetInt("seed", int(time.Now().UnixNano()%math.MaxInt32))),
			Logger:   manager.Logger,
		})
	})
}

// draftToolHandler is SimpleToolHandler for tools working on the session draft.
func draftToolHandler(manager *desk.Manager, toolName string, call func(context.Context, mcp.CallToolRequest, *desk.Draft) (any, error)) server.ToolHandlerFunc {
	handler := NewToolHandler(manager)
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		handler.trackToolCall(ctx, toolName)
		return handler.WithDraft(ctx, toolName, func(draft *desk.Draft) (*mcp.CallToolResult, error) {
			data, err := call(ctx, request, draft)
			if err != nil {
				handler.manager.Logger.Warn("Tool call failed", "tool", toolName, "error", err)
				handler.trackToolError(ctx, toolName, errorType(err))
				return mcp.NewToolResultError(err.Error()), nil
			}
			return handler.MarshalResponse(data, toolName)
		})
	}
}

func scenarioOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("spot",
			mcp.Description("Price of the underlying today"),
			mcp.Required(),
		),
		mcp.WithString("horizon",
			mcp.Description("Date (YYYY-MM-DD) at which the price distribution holds"),
			mcp.Required(),
		),
		mcp.WithNumber("volatility",
			mcp.Description("Annualized implied volatility, e.g. 0.45"),
		),
		mcp.WithArray("volatilities",
			mcp.Description("Implied volatility samples to average when volatility is not given"),
			mcp.Items(map[string]any{
				"type": "number",
			}),
		),
		mcp.WithNumber("price_std",
			mcp.Description("Standard deviation of the price at the horizon. Defaults to spot * volatility * sqrt(years to horizon)."),
		),
		mcp.WithNumber("rate",
			mcp.Description("Risk-free rate. Defaults to the server rate."),
		),
		mcp.WithString("today",
			mcp.Description("Valuation date (YYYY-MM-DD). Defaults to today."),
		),
	}
}

func scenarioFromRequest(manager *desk.Manager, request mcp.CallToolRequest, ticker string) (portfolio.Scenario, error) {
	spot, err := requirePositive(request, "spot")
	if err != nil {
		return portfolio.Scenario{}, err
	}

	vol := request.GetFloat("volatility", 0)
	if vol <= 0 {
		vol, err = portfolio.AverageVolatility(request.GetFloatSlice("volatilities", nil))
		if err != nil {
			return portfolio.Scenario{}, ValidationError{Parameter: "volatility", Message: "give volatility or volatilities"}
		}
	}

	today, err := dateArg(request, "today", time.Now())
	if err != nil {
		return portfolio.Scenario{}, err
	}
	if request.GetString("horizon", "") == "" {
		return portfolio.Scenario{}, ValidationError{Parameter: "horizon", Message: "is required"}
	}
	horizon, err := dateArg(request, "horizon", time.Time{})
	if err != nil {
		return portfolio.Scenario{}, err
	}
	if !horizon.After(today.Time) {
		return portfolio.Scenario{}, ValidationError{Parameter: "horizon", Message: "must be after today"}
	}

	std := request.GetFloat("price_std", 0)
	if std <= 0 {
		std = spot * vol * math.Sqrt(pricing.YearFraction(today.Time, horizon.Time))
	}
	dist, err := pricing.NormalAround(spot, std, distributionWidth)
	if err != nil {
		return portfolio.Scenario{}, ValidationError{Parameter: "price_std", Message: err.Error()}
	}

	return portfolio.Scenario{
		Ticker:       ticker,
		Spot:         spot,
		Today:        today.Time,
		Horizon:      horizon.Time,
		Distribution: dist,
		Volatility:   vol,
		Rate:         request.GetFloat("rate", manager.RiskFreeRate()),
	}, nil
}
