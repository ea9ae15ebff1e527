package mcp

import (
	"context"
	"errors"
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestPaginate(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name string
		p    Pagination
		want []string
	}{
		{"everything", Pagination{}, ids},
		{"first page", Pagination{From: 0, Limit: 2}, []string{"a", "b"}},
		{"middle page", Pagination{From: 2, Limit: 2}, []string{"c", "d"}},
		{"short last page", Pagination{From: 4, Limit: 2}, []string{"e"}},
		{"offset only", Pagination{From: 3}, []string{"d", "e"}},
		{"past the end", Pagination{From: 9, Limit: 2}, []string{}},
		{"negative offset", Pagination{From: -3, Limit: 1}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Paginate(ids, tt.p))
		})
	}

	assert.Empty(t, Paginate([]int(nil), Pagination{Limit: 3}))
}

func TestNewPaginatedResponse(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}

	page := NewPaginatedResponse(ids, Pagination{From: 1, Limit: 2})
	assert.Equal(t, []string{"b", "c"}, page.Data)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Returned)
	assert.True(t, page.Pagination.HasMore)

	last := NewPaginatedResponse(ids, Pagination{From: 4, Limit: 2})
	assert.Equal(t, 1, last.Pagination.Returned)
	assert.False(t, last.Pagination.HasMore)
}

func TestPaginationFromRequest(t *testing.T) {
	var request gomcp.CallToolRequest
	request.Params.Arguments = map[string]any{"from": 10.0, "limit": 50.0}
	assert.Equal(t, Pagination{From: 10, Limit: 50}, paginationFromRequest(request))

	request.Params.Arguments = map[string]any{"from": -4.0, "limit": -1.0}
	assert.Equal(t, Pagination{}, paginationFromRequest(request))

	request.Params.Arguments = nil
	assert.Equal(t, Pagination{}, paginationFromRequest(request))
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "validation_error", errorType(ValidationError{Parameter: "spot", Message: "must be positive"}))
	assert.Equal(t, "execution_error", errorType(errors.New("boom")))
	assert.Equal(t, "parameter 'spot': must be positive", ValidationError{Parameter: "spot", Message: "must be positive"}.Error())
}

func TestSessionTypeFromContext(t *testing.T) {
	assert.Equal(t, SessionTypeUnknown, SessionTypeFromContext(context.Background()))
	assert.Equal(t, SessionTypeStdio, SessionTypeFromContext(WithSessionType(context.Background(), SessionTypeStdio)))
}

func TestParseExcludedTools(t *testing.T) {
	tests := []struct {
		input string
		want  map[string]bool
	}{
		{"", map[string]bool{}},
		{"optimize_portfolio", map[string]bool{"optimize_portfolio": true}},
		{" optimize_portfolio ,,clear_portfolio ", map[string]bool{"optimize_portfolio": true, "clear_portfolio": true}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseExcludedTools(tt.input), tt.input)
	}
}

func TestFilterTools(t *testing.T) {
	all := GetAllTools()
	assert.Len(t, all, 8)

	names := make(map[string]bool)
	for _, tool := range all {
		name := tool.Tool().Name
		assert.False(t, names[name], "duplicate tool %s", name)
		names[name] = true
	}

	filtered, registered, excluded := filterTools(all, map[string]bool{"optimize_portfolio": true, "no_such_tool": true})
	assert.Equal(t, len(all)-1, registered)
	assert.Equal(t, 1, excluded)
	for _, tool := range filtered {
		assert.NotEqual(t, "optimize_portfolio", tool.Tool().Name)
	}
}
