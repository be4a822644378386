package database

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/rewards/internal/metrics"
)

const startTimeKey = "metrics:start_time"

// RegisterMetricsHooks times every create/query/update/delete and feeds the
// metrics collector
func RegisterMetricsHooks(db *gorm.DB, m *metrics.Metrics) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(startTimeKey, time.Now())
	}
	after := func(tx *gorm.DB) {
		m.IncrementCounter(metrics.CounterDBQueries)
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			m.IncrementCounter(metrics.CounterDBQueryErrors)
		}
		if start, ok := tx.InstanceGet(startTimeKey); ok {
			m.RecordTimer(metrics.TimerDBQuery, time.Since(start.(time.Time)))
		}
	}

	cb := db.Callback()
	registrations := []struct {
		name string
		err  error
	}{
		{"create:before", cb.Create().Before("gorm:create").Register("metrics:before_create", before)},
		{"create:after", cb.Create().After("gorm:create").Register("metrics:after_create", after)},
		{"query:before", cb.Query().Before("gorm:query").Register("metrics:before_query", before)},
		{"query:after", cb.Query().After("gorm:query").Register("metrics:after_query", after)},
		{"update:before", cb.Update().Before("gorm:update").Register("metrics:before_update", before)},
		{"update:after", cb.Update().After("gorm:update").Register("metrics:after_update", after)},
		{"delete:before", cb.Delete().Before("gorm:delete").Register("metrics:before_delete", before)},
		{"delete:after", cb.Delete().After("gorm:delete").Register("metrics:after_delete", after)},
	}
	for _, r := range registrations {
		if r.err != nil {
			return errors.Wrapf(r.err, "failed to register %s metrics hook", r.name)
		}
	}
	return nil
}
