package aggregate

import (
	"sort"
	"time"

	"spendagg/internal/core"
)

// bucketKey identifies one spend bucket within a user's month. Currency is
// part of the key: amounts in different currencies are never summed together.
type bucketKey struct {
	CategoryID int64
	Currency   string
}

// Snapshot is one fully-built, immutable generation of the monthly spend
// aggregate. It is published atomically and never mutated after publish;
// readers either see a previous complete snapshot or this one.
type Snapshot struct {
	refreshedAt time.Time
	version     uint64

	// user -> month -> bucket -> spend (always >= 0)
	users map[int64]map[core.Month]map[bucketKey]core.Decimal
}

// SpendTotal is one bucket of a query result.
type SpendTotal struct {
	Month      core.Month
	CategoryID int64
	Currency   string
	Spend      core.Decimal
}

// Row is one bucket of the full snapshot, used for exports.
type Row struct {
	UserID int64
	SpendTotal
}

// RefreshedAt returns when this snapshot finished building.
func (s *Snapshot) RefreshedAt() time.Time { return s.refreshedAt }

// Version returns the snapshot generation number.
func (s *Snapshot) Version() uint64 { return s.version }

// query collects spend totals for one user over an inclusive month range,
// optionally restricted to a category set. Cost is proportional to the range
// length and the number of matching buckets, not to ledger size.
func (s *Snapshot) query(userID int64, r core.MonthRange, categoryIDs []int64) []SpendTotal {
	months, ok := s.users[userID]
	if !ok {
		return []SpendTotal{}
	}

	var filter map[int64]bool
	if len(categoryIDs) > 0 {
		filter = make(map[int64]bool, len(categoryIDs))
		for _, id := range categoryIDs {
			filter[id] = true
		}
	}

	totals := []SpendTotal{}
	for m := r.From; !r.To.Before(m); m = m.Next() {
		for key, spend := range months[m] {
			if filter != nil && !filter[key.CategoryID] {
				continue
			}
			totals = append(totals, SpendTotal{
				Month:      m,
				CategoryID: key.CategoryID,
				Currency:   key.Currency,
				Spend:      spend,
			})
		}
	}

	sortTotals(totals)
	return totals
}

// Rows returns every bucket in the snapshot, ordered by user, month,
// category, currency. Used by the reporting export.
func (s *Snapshot) Rows() []Row {
	var rows []Row
	for userID, months := range s.users {
		for m, buckets := range months {
			for key, spend := range buckets {
				rows = append(rows, Row{
					UserID: userID,
					SpendTotal: SpendTotal{
						Month:      m,
						CategoryID: key.CategoryID,
						Currency:   key.Currency,
						Spend:      spend,
					},
				})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		return totalLess(rows[i].SpendTotal, rows[j].SpendTotal)
	})
	return rows
}

// BucketCount returns the number of buckets across all users.
func (s *Snapshot) BucketCount() int {
	n := 0
	for _, months := range s.users {
		for _, buckets := range months {
			n += len(buckets)
		}
	}
	return n
}

func sortTotals(totals []SpendTotal) {
	sort.Slice(totals, func(i, j int) bool {
		return totalLess(totals[i], totals[j])
	})
}

func totalLess(a, b SpendTotal) bool {
	if a.Month != b.Month {
		return a.Month.Before(b.Month)
	}
	if a.CategoryID != b.CategoryID {
		return a.CategoryID < b.CategoryID
	}
	return a.Currency < b.Currency
}

// builder accumulates buckets for a snapshot under construction. It is only
// ever touched by the single in-flight rebuild; nothing reads it until the
// finished snapshot is published.
type builder struct {
	users            map[int64]map[core.Month]map[bucketKey]core.Decimal
	excludeTransfers bool
}

func newBuilder(excludeTransfers bool) *builder {
	return &builder{
		users:            make(map[int64]map[core.Month]map[bucketKey]core.Decimal),
		excludeTransfers: excludeTransfers,
	}
}

// add folds one ledger transaction into the build. Only outflows with a
// category attached contribute; inflows, zero amounts and uncategorized
// rows are skipped.
func (b *builder) add(tx core.Transaction) {
	if !tx.Amount.IsOutflow() {
		return
	}
	if tx.CategoryID == nil {
		return
	}
	if b.excludeTransfers && tx.IsTransfer {
		return
	}

	months, ok := b.users[tx.UserID]
	if !ok {
		months = make(map[core.Month]map[bucketKey]core.Decimal)
		b.users[tx.UserID] = months
	}
	m := core.MonthOf(tx.Date)
	buckets, ok := months[m]
	if !ok {
		buckets = make(map[bucketKey]core.Decimal)
		months[m] = buckets
	}

	key := bucketKey{CategoryID: *tx.CategoryID, Currency: tx.Amount.Currency}
	buckets[key] = buckets[key].Add(tx.Amount.Amount.Neg())
}

func (b *builder) finish(version uint64, at time.Time) *Snapshot {
	return &Snapshot{
		refreshedAt: at,
		version:     version,
		users:       b.users,
	}
}
