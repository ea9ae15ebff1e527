package desk

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/desk/templates"
	"github.com/optiondesk/optiondesk/pricing"
)

const (
	ViewStatus       = "status"
	ViewOptionsList  = "options-list"
	ViewOptionDetail = "option-detail"
)

var (
	ErrViewNotFound    = errors.New("view not found")
	ErrInvalidViewData = errors.New("invalid view data")
)

// RenderFunc writes a view for the given data.
type RenderFunc func(w io.Writer, data any) error

// Views maps view names to render functions.
type Views struct {
	mu    sync.RWMutex
	views map[string]RenderFunc
}

func NewViews() *Views {
	return &Views{views: make(map[string]RenderFunc)}
}

// Register adds or replaces a view.
func (v *Views) Register(name string, fn RenderFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[name] = fn
}

// Render writes the named view to w.
func (v *Views) Render(w io.Writer, name string, data any) error {
	v.mu.RLock()
	fn, ok := v.views[name]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrViewNotFound, name)
	}
	return fn(w, data)
}

// Names returns the registered view names in sorted order.
func (v *Views) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.views))
	for name := range v.views {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StatusPage is the data of the status view.
type StatusPage struct {
	Title      string
	Version    string
	Securities int
	Sessions   int
	// ClientsToday is the number of distinct MCP clients seen today.
	ClientsToday int64
	LastReload   time.Time
}

// OptionsListPage is the data of the options-list view.
type OptionsListPage struct {
	Title   string
	Query   string
	Options []securities.Security
}

// OptionDetailPage is the data of the option-detail view. Quote is optional.
type OptionDetailPage struct {
	Title    string
	Security securities.Security
	Quote    *pricing.QuoteResult
}

// DefaultViews parses the embedded templates and registers the status,
// options-list and option-detail views.
func DefaultViews() (*Views, error) {
	views := NewViews()

	status, err := templateView("status.html")
	if err != nil {
		return nil, err
	}
	views.Register(ViewStatus, func(w io.Writer, data any) error {
		page, ok := data.(StatusPage)
		if !ok {
			return fmt.Errorf("%w: %s wants StatusPage, got %T", ErrInvalidViewData, ViewStatus, data)
		}
		return status(w, page)
	})

	list, err := templateView("options_list.html")
	if err != nil {
		return nil, err
	}
	views.Register(ViewOptionsList, func(w io.Writer, data any) error {
		switch page := data.(type) {
		case OptionsListPage:
			if page.Title == "" {
				page.Title = "Options"
			}
			return list(w, page)
		case []securities.Security:
			return list(w, OptionsListPage{Title: "Options", Options: page})
		}
		return fmt.Errorf("%w: %s wants OptionsListPage, got %T", ErrInvalidViewData, ViewOptionsList, data)
	})

	detail, err := templateView("option_detail.html")
	if err != nil {
		return nil, err
	}
	views.Register(ViewOptionDetail, func(w io.Writer, data any) error {
		var page OptionDetailPage
		switch d := data.(type) {
		case OptionDetailPage:
			page = d
		case securities.Security:
			page = OptionDetailPage{Security: d}
		default:
			return fmt.Errorf("%w: %s wants OptionDetailPage, got %T", ErrInvalidViewData, ViewOptionDetail, data)
		}
		if err := page.Security.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidViewData, err)
		}
		if page.Title == "" {
			page.Title = page.Security.ID()
		}
		return detail(w, page)
	})

	return views, nil
}

func templateView(name string) (func(io.Writer, any) error, error) {
	templ, err := template.ParseFS(templates.FS, "base.html", name)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", name, err)
	}
	return func(w io.Writer, data any) error {
		return templ.ExecuteTemplate(w, "base", data)
	}, nil
}
