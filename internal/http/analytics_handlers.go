package http

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billfold/internal/analytics"
	"billfold/internal/core"
)

type categoryUsage struct {
	Name    string     `json:"name"`
	Spent   core.Money `json:"spent"`
	Budget  core.Money `json:"budget"`
	Percent float64    `json:"percent"` // -1 stands in for an undefined (infinite) usage
	Hex     string     `json:"hex"`
	Icon    string     `json:"icon"`
}

type summaryResponse struct {
	TotalSpend    core.Money                 `json:"total_spend"`
	TotalBudget   core.Money                 `json:"total_budget"`
	MonthlyBudget core.Money                 `json:"monthly_budget"`
	Forecast      core.Money                 `json:"forecast_next_month"`
	Trend         []analytics.TrendBucket    `json:"monthly_trend"`
	Breakdown     []analytics.BreakdownEntry `json:"category_breakdown"`
	Top           []analytics.RankedCategory `json:"top_categories"`
	Usage         []categoryUsage            `json:"budget_usage"`
	Filtered      int                        `json:"filtered_count"`
}

// parseQuery builds the filter from query parameters. Unknown period values
// fall back to all-time, matching the filter's pass-through behavior.
func parseQuery(r *http.Request) (analytics.Query, error) {
	q := analytics.Query{
		Category: r.URL.Query().Get("category"),
		Period:   analytics.Period(r.URL.Query().Get("period")),
	}
	if raw := r.URL.Query().Get("start"); raw != "" {
		d, err := core.ParseDate(raw)
		if err != nil {
			return q, fmt.Errorf("start: %w", err)
		}
		q.Start = d
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		d, err := core.ParseDate(raw)
		if err != nil {
			return q, fmt.Errorf("end: %w", err)
		}
		q.End = d
	}
	return q, nil
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	query, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := s.summaryKey(username, r.URL.RawQuery)
	if cached, ok := s.summaryCache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load session", "username", username, "error", err)
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	snap := c.Snapshot()

	filtered := analytics.Filter(snap.Expenses, query)
	trend := analytics.MonthlyTrend(snap.Expenses)

	usage := make([]categoryUsage, 0, len(snap.Categories))
	for _, cat := range snap.Categories {
		spent := analytics.CategorySpend(filtered, cat.Name)
		pct := analytics.BudgetUsage(spent, cat.Budget)
		if math.IsInf(pct, 1) {
			pct = -1
		}
		usage = append(usage, categoryUsage{
			Name:    cat.Name,
			Spent:   spent,
			Budget:  cat.Budget,
			Percent: pct,
			Hex:     cat.Hex,
			Icon:    cat.Icon,
		})
	}

	resp := summaryResponse{
		TotalSpend:    analytics.TotalSpend(filtered),
		TotalBudget:   analytics.TotalBudget(snap.Categories),
		MonthlyBudget: snap.Budget,
		Forecast:      analytics.ForecastNextMonth(trend, snap.Expenses),
		Trend:         trend,
		Breakdown:     analytics.CategoryBreakdown(filtered, snap.Categories),
		Top:           analytics.TopCategories(filtered, snap.Categories, 5),
		Usage:         usage,
		Filtered:      len(filtered),
	}
	s.summaryCache.Set(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

// handleAnalyticsTrend returns the six-month spending trend. Trends always
// cover the full expense history, unfiltered.
func (s *Server) handleAnalyticsTrend(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	trend := analytics.MonthlyTrend(c.Snapshot().Expenses)
	writeJSON(w, http.StatusOK, map[string]any{"monthly_trend": trend})
}

func (s *Server) handleAnalyticsForecast(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	expenses := c.Snapshot().Expenses
	forecast := analytics.ForecastNextMonth(analytics.MonthlyTrend(expenses), expenses)
	writeJSON(w, http.StatusOK, map[string]any{"forecast_next_month": forecast})
}

func (s *Server) handleAnalyticsBreakdown(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	query, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	snap := c.Snapshot()
	filtered := analytics.Filter(snap.Expenses, query)
	writeJSON(w, http.StatusOK, map[string]any{
		"category_breakdown": analytics.CategoryBreakdown(filtered, snap.Categories),
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	query, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	snap := c.Snapshot()
	filtered := analytics.Filter(snap.Expenses, query)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", username+".csv"))
	if err := analytics.WriteCSV(w, filtered); err != nil {
		slog.ErrorContext(r.Context(), "CSV export failed", "username", username, "error", err)
	}
}
