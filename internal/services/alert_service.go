package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spendagg/internal/aggregate"
	"spendagg/internal/core"
	"spendagg/internal/storage"
)

// SpendReader is the slice of the aggregator the alert evaluator needs.
type SpendReader interface {
	Query(userID int64, r core.MonthRange, categoryIDs []int64) (aggregate.Result, error)
	LastRefreshed() (time.Time, uint64, bool)
	Refresh(ctx context.Context) (time.Time, error)
}

// BudgetStore is the slice of the repository the alert evaluator needs.
type BudgetStore interface {
	ListBudgets(ctx context.Context, userID int64) ([]core.Budget, error)
	InsertAlert(ctx context.Context, a storage.Alert) (int64, error)
}

// AlertService evaluates per-category budgets against the published spend
// snapshot. Because the aggregate is eventually consistent, evaluation
// checks the snapshot's last-refreshed timestamp first and triggers a
// refresh when it is older than the configured staleness bound.
type AlertService struct {
	spend        SpendReader
	store        BudgetStore
	maxStaleness time.Duration
	now          func() time.Time
}

func NewAlertService(spend SpendReader, store BudgetStore, maxStaleness time.Duration) *AlertService {
	return &AlertService{
		spend:        spend,
		store:        store,
		maxStaleness: maxStaleness,
		now:          time.Now,
	}
}

// EvaluateMonth checks one user's budgets for one month and records an
// alert for every category whose spend exceeds its limit. Only buckets in
// the budget's own currency are compared; totals in other currencies are
// skipped rather than compared across units.
func (s *AlertService) EvaluateMonth(ctx context.Context, userID int64, month core.Month) ([]storage.Alert, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return nil, err
	}

	res, err := s.spend.Query(userID, core.MonthRange{From: month, To: month}, nil)
	if err != nil {
		return nil, fmt.Errorf("query spend: %w", err)
	}

	budgets, err := s.store.ListBudgets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	type bucket struct {
		categoryID int64
		currency   string
	}
	spendByBucket := make(map[bucket]core.Decimal, len(res.Totals))
	for _, total := range res.Totals {
		spendByBucket[bucket{total.CategoryID, total.Currency}] = total.Spend
	}

	var fired []storage.Alert
	for _, b := range budgets {
		spent, ok := spendByBucket[bucket{b.CategoryID, b.Limit.Currency}]
		if !ok || !spent.GreaterThan(b.Limit.Amount) {
			continue
		}

		catID := b.CategoryID
		alert := storage.Alert{
			UserID:     userID,
			Kind:       "budget_exceeded",
			Month:      month,
			CategoryID: &catID,
			Message: fmt.Sprintf("spend %s exceeds budget %s %s",
				spent, b.Limit.Amount, b.Limit.Currency),
		}
		if _, err := s.store.InsertAlert(ctx, alert); err != nil {
			return fired, fmt.Errorf("record alert: %w", err)
		}

		slog.InfoContext(ctx, "Budget exceeded",
			"user_id", userID,
			"month", month.String(),
			"category_id", b.CategoryID,
			"spent", spent.String(),
			"limit", b.Limit.Amount.String(),
			"currency", b.Limit.Currency,
			"as_of", res.RefreshedAt.Format(time.RFC3339))

		fired = append(fired, alert)
	}

	return fired, nil
}

// ensureFresh refreshes the aggregate when it has never been built or is
// older than the staleness bound. A refresh failure on a merely stale
// snapshot is logged and evaluation proceeds on the stale data; with no
// snapshot at all it is fatal.
func (s *AlertService) ensureFresh(ctx context.Context) error {
	at, _, ok := s.spend.LastRefreshed()
	if ok && s.now().Sub(at) <= s.maxStaleness {
		return nil
	}

	if _, err := s.spend.Refresh(ctx); err != nil {
		if !ok {
			return fmt.Errorf("aggregate unavailable: %w", err)
		}
		slog.WarnContext(ctx, "Refresh failed, evaluating against stale snapshot",
			"last_refreshed", at.Format(time.RFC3339), "error", err)
	}
	return nil
}
