package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/clock"
)

const (
	monthlyKeyPrefix = "ai_usage"
	metricCalls      = "calls"
	metricCost       = "cost"

	// Counters never expire before an hour passes, guarding against a
	// key set moments before midnight on the last day of the month.
	minMonthlyTTL = time.Hour
)

// Limits bound a month of AI usage. Zero values mean unlimited.
type Limits struct {
	CostLimit   float64
	CallLimit   int64
	CostPerCall float64
}

// EffectiveCallLimit returns the explicit call limit, or one derived from
// the cost budget when only that is set.
func (l Limits) EffectiveCallLimit() int64 {
	if l.CallLimit > 0 {
		return l.CallLimit
	}
	if l.CostLimit > 0 && l.CostPerCall > 0 {
		return int64(l.CostLimit / l.CostPerCall)
	}
	return 0
}

// Usage is a point-in-time snapshot of the month's counters.
type Usage struct {
	Month     string  `json:"month"`
	Calls     int64   `json:"calls"`
	Cost      float64 `json:"cost"`
	CallLimit int64   `json:"call_limit"`
	CostLimit float64 `json:"cost_limit"`
}

// Meter tracks monthly AI usage. Keys carry the month so that counters of
// different months never mix, and the TTL removes them after the boundary.
type Meter struct {
	kv     KV
	clk    clock.Clock
	limits Limits
}

func NewMeter(kv KV, clk clock.Clock, limits Limits) *Meter {
	return &Meter{kv: kv, clk: clk, limits: limits}
}

func monthKey(now time.Time, metric string) string {
	return fmt.Sprintf("%s:%s:%s", monthlyKeyPrefix, now.Format("2006-01"), metric)
}

// monthTTL is the time until the last second of the current month, clamped
// to at least minMonthlyTTL.
func monthTTL(now time.Time) time.Duration {
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	end := firstOfNext.Add(-time.Second)
	ttl := end.Sub(now)
	if ttl < minMonthlyTTL {
		return minMonthlyTTL
	}
	return ttl
}

// Snapshot reads the current month's counters.
func (m *Meter) Snapshot(ctx context.Context) (Usage, error) {
	now := m.clk.Now()
	calls, err := m.kv.GetInt(ctx, monthKey(now, metricCalls))
	if err != nil {
		return Usage{}, err
	}
	cost, err := m.kv.GetFloat(ctx, monthKey(now, metricCost))
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		Month:     now.Format("2006-01"),
		Calls:     calls,
		Cost:      cost,
		CallLimit: m.limits.EffectiveCallLimit(),
		CostLimit: m.limits.CostLimit,
	}, nil
}

// ErrBudgetExhausted is returned by CanExecute when the month's budget has
// no room left.
var ErrBudgetExhausted = eris.New("usage: monthly budget exhausted")

// CanExecute reports whether one more AI call fits the monthly budget.
func (m *Meter) CanExecute(ctx context.Context) error {
	u, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	if u.CallLimit > 0 && u.Calls >= u.CallLimit {
		return eris.Wrapf(ErrBudgetExhausted, "calls %d/%d", u.Calls, u.CallLimit)
	}
	// The next call is admitted only when its estimated cost still fits
	// under the limit. Without a per-call cost the gate cannot price the
	// call ahead of time and stays open.
	if u.CostLimit > 0 && m.limits.CostPerCall > 0 && u.Cost+m.limits.CostPerCall > u.CostLimit {
		return eris.Wrapf(ErrBudgetExhausted, "cost %.4f/%.2f", u.Cost, u.CostLimit)
	}
	return nil
}

// Record adds one call and its cost to the month's counters.
func (m *Meter) Record(ctx context.Context, cost float64) error {
	now := m.clk.Now()
	ttl := monthTTL(now)
	if _, err := m.kv.IncrInt(ctx, monthKey(now, metricCalls), 1, ttl); err != nil {
		return err
	}
	if cost != 0 {
		if _, err := m.kv.IncrFloat(ctx, monthKey(now, metricCost), cost, ttl); err != nil {
			return err
		}
	}
	return nil
}
