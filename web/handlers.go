// Package web serves the HTML views, the JSON and CSV catalog API and the
// OAuth2 endpoints.
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/optiondesk/optiondesk/desk"
	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/pricing"
)

// Handler serves the catalog over HTTP.
type Handler struct {
	desk   *desk.Manager
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(manager *desk.Manager, logger *slog.Logger) *Handler {
	return &Handler{desk: manager, logger: logger, now: time.Now}
}

// Register adds the view and API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Status)
	mux.HandleFunc("GET /options", h.OptionsList)
	mux.HandleFunc("GET /options/{id}", h.OptionDetail)
	mux.HandleFunc("GET /api/options", h.APIList)
	mux.HandleFunc("GET /api/options.csv", h.APIExport)
	mux.HandleFunc("GET /api/options/{id}", h.APIGet)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.render(w, desk.ViewStatus, h.desk.Status())
}

func (h *Handler) OptionsList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	h.render(w, desk.ViewOptionsList, desk.OptionsListPage{
		Title:   "Options",
		Query:   query,
		Options: h.desk.Securities.Search(query),
	})
}

func (h *Handler) OptionDetail(w http.ResponseWriter, r *http.Request) {
	sec, err := h.desk.Securities.GetByID(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	page := desk.OptionDetailPage{Security: sec}
	quote, err := h.quote(r, sec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page.Quote = quote
	h.render(w, desk.ViewOptionDetail, page)
}

// quote prices sec when the request carries spot and vol. It returns nil
// when neither is given.
func (h *Handler) quote(r *http.Request, sec securities.Security) (*pricing.QuoteResult, error) {
	q := r.URL.Query()
	if q.Get("spot") == "" && q.Get("vol") == "" {
		return nil, nil
	}

	spot, err := positiveParam(q.Get("spot"), "spot")
	if err != nil {
		return nil, err
	}
	vol, err := positiveParam(q.Get("vol"), "vol")
	if err != nil {
		return nil, err
	}

	rate := h.desk.RiskFreeRate()
	if s := q.Get("rate"); s != "" {
		rate, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q", s)
		}
	}

	on := securities.DateOf(h.now())
	if s := q.Get("date"); s != "" {
		on, err = securities.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
		}
	}

	years := pricing.YearFraction(on.Time, sec.Expiry.Time)
	res := pricing.Quote(pricing.Kind(sec.SecurityType), spot, sec.Strike, years, rate, vol)
	return &res, nil
}

func positiveParam(s, name string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !(v > 0) {
		return 0, fmt.Errorf("%s must be a positive number", name)
	}
	return v, nil
}

// render writes the view to a buffer first so a template failure still
// produces a clean 500.
func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := h.desk.RenderView(&buf, name, data); err != nil {
		h.logger.Error("Failed to render view", "view", name, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, desk.ErrInvalidViewData) {
			status = http.StatusBadRequest
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// ListResponse is the body of GET /api/options.
type ListResponse struct {
	Options []securities.Listing `json:"options"`
	Total   int                  `json:"total"`
	From    int                  `json:"from"`
	HasMore bool                 `json:"has_more"`
}

func (h *Handler) APIList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := intParam(q.Get("from"))
	if err != nil {
		http.Error(w, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		http.Error(w, "limit: "+err.Error(), http.StatusBadRequest)
		return
	}

	all := h.desk.Securities.Search(q.Get("q"))
	start := min(from, len(all))
	end := len(all)
	if limit > 0 {
		end = min(start+limit, len(all))
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Options: securities.Listings(all[start:end]),
		Total:   len(all),
		From:    start,
		HasMore: end < len(all),
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return v, nil
}

func (h *Handler) APIGet(w http.ResponseWriter, r *http.Request) {
	sec, err := h.desk.Securities.GetByID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sec.Listing())
}

func (h *Handler) APIExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := securities.WriteCSV(&buf, h.desk.Securities.List()); err != nil {
		h.logger.Error("Failed to export catalog", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="options.csv"`)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
