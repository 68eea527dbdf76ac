package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spendagg/internal/core"
)

type transactionRequest struct {
	UserID     int64  `json:"user_id"`
	AccountID  *int64 `json:"account_id,omitempty"`
	Date       string `json:"date"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	CategoryID *int64 `json:"category_id,omitempty"`
	IsTransfer bool   `json:"is_transfer"`
	Note       string `json:"note"`
}

// parseTransactionRequest decodes and validates a ledger write body.
func parseTransactionRequest(body io.Reader) (core.Transaction, error) {
	var req transactionRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return core.Transaction{}, fmt.Errorf("invalid JSON body: %w", err)
	}

	money, err := core.NewMoney(req.Amount, req.Currency)
	if err != nil {
		return core.Transaction{}, err
	}

	t, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("%w: want YYYY-MM-DD", core.ErrInvalidDate)
	}

	tx := core.Transaction{
		UserID:     req.UserID,
		AccountID:  req.AccountID,
		Date:       core.NewDate(t.Year(), t.Month(), t.Day()),
		Amount:     money,
		CategoryID: req.CategoryID,
		IsTransfer: req.IsTransfer,
		Note:       strings.TrimSpace(req.Note),
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

type categoryRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func parseCategoryRequest(body io.Reader) (core.Category, error) {
	var req categoryRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return core.Category{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	c := core.Category{
		Name: strings.TrimSpace(req.Name),
		Kind: core.CategoryKind(strings.TrimSpace(req.Kind)),
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	return c, nil
}

type spendQuery struct {
	UserID      int64
	Range       core.MonthRange
	CategoryIDs []int64
}

// parseSpendQuery reads the /spend query string. A missing or non-numeric
// user_id is a plain validation error; a month range that does not parse or
// runs backwards surfaces ErrInvalidMonthRange so the handler can report it
// as unprocessable rather than malformed.
func parseSpendQuery(r *http.Request) (spendQuery, error) {
	q := r.URL.Query()

	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return spendQuery{}, fmt.Errorf("user_id is required and must be a positive integer")
	}

	from, err := core.ParseMonth(q.Get("from"))
	if err != nil {
		return spendQuery{}, fmt.Errorf("%w: from must be YYYY-MM", core.ErrInvalidMonthRange)
	}
	to, err := core.ParseMonth(q.Get("to"))
	if err != nil {
		return spendQuery{}, fmt.Errorf("%w: to must be YYYY-MM", core.ErrInvalidMonthRange)
	}
	mr := core.MonthRange{From: from, To: to}
	if err := mr.Validate(); err != nil {
		return spendQuery{}, err
	}

	var categoryIDs []int64
	for _, raw := range q["category_id"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return spendQuery{}, fmt.Errorf("category_id must be a positive integer, got %q", raw)
		}
		categoryIDs = append(categoryIDs, id)
	}

	return spendQuery{UserID: userID, Range: mr, CategoryIDs: categoryIDs}, nil
}

// parsePathID extracts the trailing numeric ID from paths like /transactions/42.
func parsePathID(path, prefix string) (int64, error) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, fmt.Errorf("invalid path %q", path)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
