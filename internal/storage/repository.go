package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"spendagg/internal/core"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the sqlite-backed ledger store. It owns the source of truth
// the aggregate is derived from; the aggregator only ever reads it through
// ForEachTransaction.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Foreign keys must be on for ON DELETE SET NULL to detach references.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) CreateUser(ctx context.Context, email, displayName string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, display_name) VALUES (?, ?)`, email, displayName)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) CreateAccount(ctx context.Context, userID int64, name, institution string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, institution) VALUES (?, ?, ?)`,
		userID, name, institution)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return res.LastInsertId()
}

// DeleteAccount removes an account. Transactions referencing it are kept
// with account_id detached to NULL.
func (r *Repository) DeleteAccount(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireAffected(res)
}

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name, kind) VALUES (?, ?)`, c.Name, string(c.Kind))
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return res.LastInsertId()
}

// DeleteCategory removes a category. Transactions recorded against it stay
// in the ledger with category_id detached to NULL; they drop out of the
// per-category breakdown on the next refresh.
func (r *Repository) DeleteCategory(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return requireAffected(res)
}

func (r *Repository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, kind FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var kind string
		if err := rows.Scan(&c.ID, &c.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Kind = core.CategoryKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CreateTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, account_id, tx_date, amount, currency, category_id, is_transfer, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID,
		nullableID(tx.AccountID),
		tx.Date.Format(dateLayout),
		tx.Amount.Amount.String(),
		tx.Amount.Currency,
		nullableID(tx.CategoryID),
		tx.IsTransfer,
		tx.Note)
	if err != nil {
		return 0, fmt.Errorf("create transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"id", id,
		"user_id", tx.UserID,
		"date", tx.Date.Format(dateLayout),
		"amount", tx.Amount.Amount.String(),
		"currency", tx.Amount.Currency)

	return id, nil
}

func (r *Repository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, account_id, tx_date, amount, currency, category_id, is_transfer, note
		 FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireAffected(res)
}

// ForEachTransaction streams the whole ledger. This is the aggregator's
// scan path: it holds no lock that blocks writers (sqlite readers and
// writers don't block each other here thanks to busy_timeout retries and
// the scan using its own connection from the pool).
func (r *Repository) ForEachTransaction(ctx context.Context, fn func(core.Transaction) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, account_id, tx_date, amount, currency, category_id, is_transfer, note
		 FROM transactions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("scan transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return fmt.Errorf("scan transaction row: %w", err)
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Repository) CreateBudget(ctx context.Context, b core.Budget) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (user_id, category_id, monthly_limit, currency) VALUES (?, ?, ?, ?)`,
		b.UserID, b.CategoryID, b.Limit.Amount.String(), b.Limit.Currency)
	if err != nil {
		return 0, fmt.Errorf("create budget: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) ListBudgets(ctx context.Context, userID int64) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, category_id, monthly_limit, currency FROM budgets WHERE user_id = ?`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var b core.Budget
		var limit, currency string
		if err := rows.Scan(&b.ID, &b.UserID, &b.CategoryID, &limit, &currency); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		amount, err := core.ParseAmount(limit)
		if err != nil {
			return nil, fmt.Errorf("budget %d: bad limit %q: %w", b.ID, limit, err)
		}
		b.Limit = core.Money{Amount: amount, Currency: currency}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListBudgetUsers returns the distinct users that have at least one budget,
// for the periodic alert sweep.
func (r *Repository) ListBudgetUsers(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM budgets ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list budget users: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan budget user: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Alert is one recorded notification, e.g. a budget-exceeded event.
type Alert struct {
	ID         int64
	UserID     int64
	Kind       string
	Month      core.Month
	CategoryID *int64
	Message    string
	CreatedAt  time.Time
}

func (r *Repository) InsertAlert(ctx context.Context, a Alert) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (user_id, kind, month, category_id, message) VALUES (?, ?, ?, ?, ?)`,
		a.UserID, a.Kind, a.Month.String(), nullableID(a.CategoryID), a.Message)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) ListAlerts(ctx context.Context, userID int64, month core.Month) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, kind, month, category_id, message, created_at
		 FROM alerts WHERE user_id = ? AND month = ? ORDER BY id`,
		userID, month.String())
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var monthStr, createdAt string
		var categoryID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &monthStr, &categoryID, &a.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		// sqlite stores CURRENT_TIMESTAMP as "YYYY-MM-DD HH:MM:SS" text
		if ts, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			a.CreatedAt = ts
		}
		m, err := core.ParseMonth(monthStr)
		if err != nil {
			return nil, fmt.Errorf("alert %d: %w", a.ID, err)
		}
		a.Month = m
		if categoryID.Valid {
			id := categoryID.Int64
			a.CategoryID = &id
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanFunc func(dest ...any) error

func scanTransaction(scan scanFunc) (core.Transaction, error) {
	var (
		tx         core.Transaction
		accountID  sql.NullInt64
		categoryID sql.NullInt64
		dateStr    string
		amountStr  string
		currency   string
	)
	err := scan(&tx.ID, &tx.UserID, &accountID, &dateStr, &amountStr, &currency,
		&categoryID, &tx.IsTransfer, &tx.Note)
	if err != nil {
		return core.Transaction{}, err
	}

	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("bad date %q: %w", dateStr, err)
	}
	tx.Date = core.Date{Time: date}

	amount, err := core.ParseAmount(amountStr)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("bad amount %q: %w", amountStr, err)
	}
	tx.Amount = core.Money{Amount: amount, Currency: currency}

	if accountID.Valid {
		id := accountID.Int64
		tx.AccountID = &id
	}
	if categoryID.Valid {
		id := categoryID.Int64
		tx.CategoryID = &id
	}
	return tx, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
