package mcp

import (
	"log/slog"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/optiondesk/optiondesk/desk"
)

type Tool interface {
	Tool() gomcp.Tool
	Handler(*desk.Manager) server.ToolHandlerFunc
}

// GetAllTools returns all available tools for registration
func GetAllTools() []Tool {
	return []Tool{
		// Tools that read the catalog
		&ListOptionsTool{},
		&GetOptionTool{},
		&PriceOptionTool{},

		// Tools that work on the session draft portfolio
		&AddToPortfolioTool{},
		&GetPortfolioTool{},
		&ClearPortfolioTool{},
		&ValuePortfolioTool{},

		// Tools that search for new portfolios
		&OptimizePortfolioTool{},
	}
}

// parseExcludedTools parses a comma-separated string of tool names and returns a set of excluded tools.
func parseExcludedTools(excludedTools string) map[string]bool {
	excludedSet := make(map[string]bool)
	if excludedTools != "" {
		excluded := strings.Split(excludedTools, ",")
		for _, toolName := range excluded {
			toolName = strings.TrimSpace(toolName)
			if toolName != "" {
				excludedSet[toolName] = true
			}
		}
	}
	return excludedSet
}

// filterTools returns tools that are not in the excluded set, along with counts.
// Returns (filteredTools, registeredCount, excludedCount).
func filterTools(allTools []Tool, excludedSet map[string]bool) ([]Tool, int, int) {
	filteredTools := make([]Tool, 0, len(allTools))
	excludedCount := 0

	for _, tool := range allTools {
		toolName := tool.Tool().Name
		if excludedSet[toolName] {
			excludedCount++
			continue
		}
		filteredTools = append(filteredTools, tool)
	}

	return filteredTools, len(filteredTools), excludedCount
}

func RegisterTools(srv *server.MCPServer, manager *desk.Manager, excludedTools string, logger *slog.Logger) {
	// Parse excluded tools list
	excludedSet := parseExcludedTools(excludedTools)

	// Log excluded tools
	for toolName := range excludedSet {
		logger.Info("Excluding tool from registration", "tool", toolName)
	}

	// Filter tools
	allTools := GetAllTools()
	filteredTools, registeredCount, excludedCount := filterTools(allTools, excludedSet)

	// Register filtered tools
	for _, tool := range filteredTools {
		srv.AddTool(tool.Tool(), tool.Handler(manager))
	}

	logger.Info("Tool registration complete",
		"registered", registeredCount,
		"excluded", excludedCount,
		"total_available", len(allTools))
}
