package http

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"billfold/internal/core"
	"billfold/internal/log"
	"billfold/internal/services"
	"billfold/internal/store"
)

type userDataResponse struct {
	Expenses   []core.Expense                          `json:"expenses"`
	Categories []core.Category                         `json:"categories"`
	Budget     core.Money                              `json:"budget"`
	Sync       map[services.Channel]services.SyncState `json:"sync"`
}

func snapshotResponse(snap services.Snapshot) userDataResponse {
	return userDataResponse{
		Expenses:   snap.Expenses,
		Categories: snap.Categories,
		Budget:     snap.Budget,
		Sync:       snap.States,
	}
}

// handleLogout exists for client symmetry: tokens are stateless, so logging
// out is the client discarding its token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "User logged out", "username", authUsername(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if _, err := s.users.PasswordHash(r.Context(), username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username})
}

func (s *Server) handleGetUserData(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load session", "username", username, "error", err)
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(c.Snapshot()))
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	if err := c.Resync(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	s.bumpVersion(username)
	writeJSON(w, http.StatusOK, snapshotResponse(c.Snapshot()))
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	username := authUsername(r.Context())
	var e core.Expense
	if !readJSON(w, r, &e) {
		return
	}
	if e.Username != "" && e.Username != username {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	saved, err := c.AddExpense(r.Context(), e)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.structured.LogExpenseCreated(r.Context(), saved.ID, saved.Description, saved.Amount.Cents, saved.Category)
	s.bumpVersion(username)
	writeJSON(w, http.StatusCreated, map[string]any{
		"expense": saved,
		"sync":    c.Snapshot().States,
	})
}

// handleListExpenses returns the working copy's expenses, newest first.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	expenses := c.Snapshot().Expenses
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[j].Date.Before(expenses[i].Date.Time)
	})
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

type replaceExpensesRequest struct {
	Username string         `json:"username"`
	Expenses []core.Expense `json:"expenses"`
}

func (s *Server) handleReplaceExpenses(w http.ResponseWriter, r *http.Request) {
	var req replaceExpensesRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Username != authUsername(r.Context()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	c, err := s.sessions.get(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	if err := c.ReplaceExpenses(r.Context(), req.Expenses); err != nil {
		s.structured.LogOperationFailed(r.Context(), "Expense replace rejected", err,
			log.ComponentExpense, log.OpReplace, req.Username)
		writeDomainError(w, err)
		return
	}
	s.bumpVersion(req.Username)
	writeJSON(w, http.StatusOK, snapshotResponse(c.Snapshot()))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	username := authUsername(r.Context())
	id := chi.URLParam(r, "id")

	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	if err := c.DeleteExpense(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bumpVersion(username)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": id,
		"sync":    c.Snapshot().States,
	})
}

type replaceCategoriesRequest struct {
	Username   string          `json:"username"`
	Categories []core.Category `json:"categories"`
}

func (s *Server) handleReplaceCategories(w http.ResponseWriter, r *http.Request) {
	var req replaceCategoriesRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Username != authUsername(r.Context()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	c, err := s.sessions.get(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	if err := c.ReplaceCategories(r.Context(), req.Categories); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bumpVersion(req.Username)
	writeJSON(w, http.StatusOK, snapshotResponse(c.Snapshot()))
}

func (s *Server) handleGetCategories(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	snap := c.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": snap.Categories,
		"sync":       snap.States,
	})
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var cat core.Category
	if !readJSON(w, r, &cat) {
		return
	}

	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	if err := c.AddCategory(r.Context(), cat); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bumpVersion(username)
	writeJSON(w, http.StatusCreated, snapshotResponse(c.Snapshot()))
}

type categoryBudgetRequest struct {
	Name   string     `json:"name"`
	Budget core.Money `json:"budget"`
}

func (s *Server) handleUpdateCategoryBudget(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req categoryBudgetRequest
	if !readJSON(w, r, &req) {
		return
	}

	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	if err := c.UpdateCategoryBudget(r.Context(), req.Name, req.Budget); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bumpVersion(username)
	writeJSON(w, http.StatusOK, snapshotResponse(c.Snapshot()))
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	c, err := s.sessions.get(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	snap := c.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"budget": snap.Budget,
		"sync":   snap.States,
	})
}

type setBudgetRequest struct {
	Username string     `json:"username"`
	Amount   core.Money `json:"amount"`
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req setBudgetRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Username != authUsername(r.Context()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	c, err := s.sessions.get(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	}
	if err := c.SetBudget(r.Context(), req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bumpVersion(req.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"budget": req.Amount,
		"sync":   c.Snapshot().States,
	})
}
