package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"spendagg/internal/aggregate"
	"spendagg/internal/core"
	"spendagg/internal/storage"
)

type transactionResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tx, err := parseTransactionRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	id, err := s.recorder.Record(r.Context(), tx)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to record transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record transaction")
		return
	}

	writeJSON(w, http.StatusCreated, transactionResponse{ID: id})
}

func (s *Server) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := parsePathID(r.URL.Path, "/transactions/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if err := s.recorder.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("transaction %d not found", id))
			return
		}
		slog.ErrorContext(r.Context(), "Failed to delete transaction", "error", err, "transaction_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete transaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type categoryResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cats, err := s.categories.ListCategories(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to list categories", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to list categories")
			return
		}
		out := make([]categoryResponse, 0, len(cats))
		for _, c := range cats {
			out = append(out, categoryResponse{ID: c.ID, Name: c.Name, Kind: string(c.Kind)})
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		cat, err := parseCategoryRequest(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		id, err := s.categories.CreateCategory(r.Context(), cat)
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to create category", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to create category")
			return
		}
		writeJSON(w, http.StatusCreated, categoryResponse{ID: id, Name: cat.Name, Kind: string(cat.Kind)})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCategoryByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := parsePathID(r.URL.Path, "/categories/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if err := s.categories.DeleteCategory(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("category %d not found", id))
			return
		}
		slog.ErrorContext(r.Context(), "Failed to delete category", "error", err, "category_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete category")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type spendRow struct {
	Month      string `json:"month"`
	CategoryID int64  `json:"category_id"`
	Currency   string `json:"currency"`
	Spend      string `json:"spend"`
}

type spendResponse struct {
	UserID          int64      `json:"user_id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Totals          []spendRow `json:"totals"`
	LastRefreshedAt time.Time  `json:"last_refreshed_at"`
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q, err := parseSpendQuery(r)
	if err != nil {
		if errors.Is(err, core.ErrInvalidMonthRange) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_month_range", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	// Cache key includes the snapshot version, so a newly published
	// snapshot never serves a stale cached response.
	_, version, refreshed := s.spend.LastRefreshed()
	if !refreshed {
		writeError(w, http.StatusServiceUnavailable, "not_refreshed", "spend aggregate has not been built yet")
		return
	}

	cacheKey := spendCacheKey(q, version)
	if cached, ok := s.spendCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	res, err := s.spend.Query(q.UserID, q.Range, q.CategoryIDs)
	if err != nil {
		if errors.Is(err, aggregate.ErrNotRefreshed) {
			writeError(w, http.StatusServiceUnavailable, "not_refreshed", "spend aggregate has not been built yet")
			return
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	resp := spendResponse{
		UserID:          q.UserID,
		From:            q.Range.From.String(),
		To:              q.Range.To.String(),
		Totals:          make([]spendRow, 0, len(res.Totals)),
		LastRefreshedAt: res.RefreshedAt,
	}
	for _, t := range res.Totals {
		resp.Totals = append(resp.Totals, spendRow{
			Month:      t.Month.String(),
			CategoryID: t.CategoryID,
			Currency:   t.Currency,
			Spend:      t.Spend.String(),
		})
	}

	s.spendCache.Set(cacheKey, resp)
	writeJSON(w, http.StatusOK, resp)
}

func spendCacheKey(q spendQuery, version uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "spend:%d:%s:%s:v%d", q.UserID, q.Range.From, q.Range.To, version)
	for _, id := range q.CategoryIDs {
		fmt.Fprintf(&b, ":c%d", id)
	}
	return b.String()
}

type refreshResponse struct {
	RefreshedAt time.Time `json:"refreshed_at"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	refreshedAt, err := s.spend.Refresh(ctx)
	if err != nil {
		slog.ErrorContext(r.Context(), "Manual refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "refresh_failed", "failed to rebuild spend aggregate")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{RefreshedAt: refreshedAt})
}
