package cloudmetrics

import (
	"context"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/config"
)

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Registry *prometheus.Registry
	Pusher   Pusher `optional:"true"`
}

// Collector samples fleet gauges from the database and hands the
// registry to the configured pusher. The scheduler owns the cadence;
// nothing here runs its own loop.
type Collector struct {
	db       *gorm.DB
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics
	pusher   Pusher
}

func NewCollector(p Params) *Collector {
	m := newMetrics(p.Registry)

	installID := strings.TrimSpace(p.Config.Cloud.InstallID)
	if installID == "" {
		installID = "unknown"
	}
	m.info.WithLabelValues(installID, p.Config.AppVersion).Set(1)

	return &Collector{
		db:       p.DB,
		log:      p.Log.Named("cloudmetrics"),
		registry: p.Registry,
		metrics:  m,
		pusher:   p.Pusher,
	}
}

func (c *Collector) Enabled() bool {
	return c != nil && c.pusher != nil
}

// CollectAndPush refreshes every gauge and pushes the registry. A
// disabled collector reports success so the caller never branches.
func (c *Collector) CollectAndPush(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	c.sample(ctx)
	return c.pusher.Push(ctx, c.registry)
}

func (c *Collector) sample(ctx context.Context) {
	c.sampleCount(ctx, `SELECT COUNT(1) FROM users`, c.metrics.users)
	c.sampleCount(ctx, `SELECT COUNT(1) FROM areas`, c.metrics.areas)
	c.sampleCount(ctx, `SELECT COALESCE(SUM(points), 0) FROM ledger_entries`, c.metrics.points)
	c.sampleCount(ctx, `SELECT COUNT(1) FROM streak_states WHERE current > 0`, c.metrics.activeStreaks)

	var bowlRows []struct {
		State string `gorm:"column:state"`
		Count int64  `gorm:"column:count"`
	}
	if err := c.db.WithContext(ctx).Raw(
		`SELECT state, COUNT(1) AS count FROM bowls GROUP BY state`,
	).Scan(&bowlRows).Error; err != nil {
		c.log.Warn("cloud metrics sample failed", zap.String("table", "bowls"), zap.Error(err))
	} else {
		c.metrics.bowls.Reset()
		for _, row := range bowlRows {
			c.metrics.bowls.WithLabelValues(row.State).Set(float64(row.Count))
		}
	}

	var verificationRows []struct {
		Tier    string `gorm:"column:tier"`
		Verdict string `gorm:"column:verdict"`
		Count   int64  `gorm:"column:count"`
	}
	if err := c.db.WithContext(ctx).Raw(
		`SELECT tier, verdict, COUNT(1) AS count FROM verification_attempts GROUP BY tier, verdict`,
	).Scan(&verificationRows).Error; err != nil {
		c.log.Warn("cloud metrics sample failed", zap.String("table", "verification_attempts"), zap.Error(err))
	} else {
		c.metrics.verifications.Reset()
		for _, row := range verificationRows {
			c.metrics.verifications.WithLabelValues(row.Tier, row.Verdict).Set(float64(row.Count))
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.metrics.memSysBytes.Set(float64(mem.Sys))
}

func (c *Collector) sampleCount(ctx context.Context, query string, gauge prometheus.Gauge) {
	var value int64
	if err := c.db.WithContext(ctx).Raw(query).Scan(&value).Error; err != nil {
		c.log.Warn("cloud metrics sample failed", zap.String("query", query), zap.Error(err))
		return
	}
	gauge.Set(float64(value))
}
