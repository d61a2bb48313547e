package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/clock"
)

const dailyKeyPrefix = "corporate_number_api:daily"

// ErrDailyLimitReached is returned when the registry's daily request cap
// has been hit.
var ErrDailyLimitReached = eris.New("usage: daily request limit reached")

// DailyCounter caps registry API requests per calendar day. The key expires
// at the next midnight in the counter's timezone.
type DailyCounter struct {
	kv    KV
	clk   clock.Clock
	limit int64
}

func NewDailyCounter(kv KV, clk clock.Clock, limit int64) *DailyCounter {
	return &DailyCounter{kv: kv, clk: clk, limit: limit}
}

func dailyKey(now time.Time) string {
	return fmt.Sprintf("%s:%s", dailyKeyPrefix, now.Format("20060102"))
}

// dailyTTL is the time until the next midnight, never below one second so
// an increment at 23:59:59.9 still sets a positive expiry.
func dailyTTL(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	ttl := midnight.Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// Count returns today's request count.
func (d *DailyCounter) Count(ctx context.Context) (int64, error) {
	return d.kv.GetInt(ctx, dailyKey(d.clk.Now()))
}

// Allow reports whether another request fits today's cap.
func (d *DailyCounter) Allow(ctx context.Context) error {
	if d.limit <= 0 {
		return nil
	}
	n, err := d.Count(ctx)
	if err != nil {
		return err
	}
	if n >= d.limit {
		return eris.Wrapf(ErrDailyLimitReached, "%d/%d", n, d.limit)
	}
	return nil
}

// Record counts one request against today.
func (d *DailyCounter) Record(ctx context.Context) error {
	now := d.clk.Now()
	_, err := d.kv.IncrInt(ctx, dailyKey(now), 1, dailyTTL(now))
	return err
}
