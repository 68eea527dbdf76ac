package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	KindExpense CategoryKind = "expense"
	KindIncome  CategoryKind = "income"
)

type (
	CategoryKind string

	// Date is a pure calendar date. The aggregate groups by calendar month
	// of the stored date, never by instant, so no timezone conversion happens.
	Date struct {
		time.Time
	}

	// Money is a signed decimal amount in a single currency.
	// Negative = outflow (expense), positive = inflow (income).
	Money struct {
		Amount   Decimal
		Currency string
	}

	// Transaction is one ledger row. Immutable once recorded, except that
	// deleting its category or account detaches the reference (set to nil)
	// without deleting the transaction.
	Transaction struct {
		ID         int64
		UserID     int64
		AccountID  *int64
		Date       Date
		Amount     Money
		CategoryID *int64
		IsTransfer bool
		Note       string
	}

	// Category is a globally shared classification tag.
	Category struct {
		ID   int64
		Name string
		Kind CategoryKind
	}

	// Budget is a per-user, per-category monthly spend limit.
	Budget struct {
		ID         int64
		UserID     int64
		CategoryID int64
		Limit      Money
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidDate     = errors.New("invalid date")
	ErrEmptyName       = errors.New("empty name")
	ErrInvalidKind     = errors.New("invalid category kind")
)

// NewDate creates a calendar date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (m Money) Validate() error {
	if len(m.Currency) != 3 {
		return ErrInvalidCurrency
	}
	for _, r := range m.Currency {
		if r < 'A' || r > 'Z' {
			return ErrInvalidCurrency
		}
	}
	return nil
}

// IsOutflow reports whether this amount counts toward spend.
func (m Money) IsOutflow() bool {
	return m.Amount.IsNegative()
}

func (t Transaction) Validate() error {
	if t.UserID <= 0 {
		return errors.New("missing user id")
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if len(t.Note) > 500 {
		return errors.New("note too long (max 500 characters)")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	switch c.Kind {
	case KindExpense, KindIncome:
	default:
		return ErrInvalidKind
	}
	return nil
}

// Month identifies one calendar month. Comparable, usable as a map key.
type Month struct {
	Year int
	Mon  time.Month
}

// MonthOf truncates a date to its calendar month.
func MonthOf(d Date) Month {
	return Month{Year: d.Time.Year(), Mon: d.Time.Month()}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return Month{Year: t.Year(), Mon: t.Month()}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Mon))
}

func (m Month) Validate() error {
	if m.Year < 1 || m.Mon < time.January || m.Mon > time.December {
		return fmt.Errorf("invalid month %q", m)
	}
	return nil
}

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Mon < other.Mon
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Mon == time.December {
		return Month{Year: m.Year + 1, Mon: time.January}
	}
	return Month{Year: m.Year, Mon: m.Mon + 1}
}

// MonthRange is an inclusive [From, To] span of calendar months.
type MonthRange struct {
	From Month
	To   Month
}

var ErrInvalidMonthRange = errors.New("invalid month range")

func (r MonthRange) Validate() error {
	if err := r.From.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMonthRange, err)
	}
	if err := r.To.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMonthRange, err)
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidMonthRange, r.From, r.To)
	}
	return nil
}

// Months returns every month in the range, in order.
func (r MonthRange) Months() []Month {
	var out []Month
	for m := r.From; !r.To.Before(m); m = m.Next() {
		out = append(out, m)
	}
	return out
}
