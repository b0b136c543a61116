package cloudmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/config"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	streakdomain "github.com/babcialabs/babcia/internal/streak/domain"
	visiondomain "github.com/babcialabs/babcia/internal/vision/domain"
)

func setupCollector(t *testing.T) (*Collector, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&authdomain.User{},
		&areadomain.Area{},
		&bowldomain.Bowl{},
		&bowldomain.VerificationAttempt{},
		&ledgerdomain.Entry{},
		&streakdomain.State{},
	))

	node, err := snowflake.NewNode(11)
	require.NoError(t, err)

	collector := NewCollector(Params{
		Config: config.Config{
			AppVersion: "test",
			Cloud:      config.CloudConfig{InstallID: "install-1"},
		},
		DB:       db,
		Log:      zap.NewNop(),
		Registry: prometheus.NewRegistry(),
	})

	return collector, db, node
}

func TestCollectorSample(t *testing.T) {
	collector, db, node := setupCollector(t)
	ctx := context.Background()

	alice := node.Generate()
	brygida := node.Generate()
	require.NoError(t, db.Create(&authdomain.User{ID: alice, Email: "alice@example.com", Role: "user"}).Error)
	require.NoError(t, db.Create(&authdomain.User{ID: brygida, Email: "brygida@example.com", Role: "user"}).Error)

	areaID := node.Generate()
	require.NoError(t, db.Create(&areadomain.Area{
		ID: areaID, UserID: alice, Name: "Kitchen", Slug: "kitchen", Persona: "babcia", DailyBowlTarget: 2,
	}).Error)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	final := int64(20)
	require.NoError(t, db.Create(&bowldomain.Bowl{
		ID: node.Generate(), UserID: alice, AreaID: areaID,
		State: bowldomain.StateOpen, BasePoints: 3, CreatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&bowldomain.Bowl{
		ID: node.Generate(), UserID: alice, AreaID: areaID,
		State: bowldomain.StateFinalized, BasePoints: 5, FinalPoints: &final, FinalizedAt: &now, CreatedAt: now,
	}).Error)

	require.NoError(t, db.Create(&bowldomain.VerificationAttempt{
		ID: node.Generate(), BowlID: node.Generate(), UserID: alice,
		Tier: bowldomain.TierGolden, BeforePhotoRef: "b", AfterPhotoRef: "a",
		Verdict: visiondomain.VerdictPass, JudgedAt: now,
	}).Error)

	require.NoError(t, db.Create(&ledgerdomain.Entry{
		ID: node.Generate(), UserID: alice, Kind: ledgerdomain.EntryKindTaskTick,
		SourceID: "t1", Points: 12, OccurredAt: now,
	}).Error)
	require.NoError(t, db.Create(&ledgerdomain.Entry{
		ID: node.Generate(), UserID: alice, Kind: ledgerdomain.EntryKindShopDebit,
		SourceID: "f1", Points: -5, OccurredAt: now,
	}).Error)

	require.NoError(t, db.Create(&streakdomain.State{UserID: alice, Current: 3, Longest: 5, LastCountedDay: "2025-06-01"}).Error)
	require.NoError(t, db.Create(&streakdomain.State{UserID: brygida, Current: 0, Longest: 2, LastCountedDay: "2025-04-10"}).Error)

	collector.sample(ctx)

	require.Equal(t, float64(2), testutil.ToFloat64(collector.metrics.users))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.metrics.areas))
	require.Equal(t, float64(7), testutil.ToFloat64(collector.metrics.points))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.metrics.activeStreaks))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.metrics.bowls.WithLabelValues("open")))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.metrics.bowls.WithLabelValues("finalized")))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.metrics.verifications.WithLabelValues("golden", "pass")))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.metrics.info.WithLabelValues("install-1", "test")))
}

func TestCollectAndPushDisabled(t *testing.T) {
	collector, _, _ := setupCollector(t)

	// No pusher configured: the job succeeds without touching the DB.
	require.False(t, collector.Enabled())
	require.NoError(t, collector.CollectAndPush(context.Background()))
}

func TestNewPusherGating(t *testing.T) {
	log := zap.NewNop()

	require.Nil(t, NewPusher(config.Config{}, log))

	require.Nil(t, NewPusher(config.Config{
		Cloud: config.CloudConfig{Metrics: config.CloudMetricsConfig{Enabled: true, Exporter: "carrier_pigeon", Endpoint: "http://example.com"}},
	}, log))

	require.NotNil(t, NewPusher(config.Config{
		Cloud: config.CloudConfig{Metrics: config.CloudMetricsConfig{
			Enabled:  true,
			Exporter: "prometheus_remote_write",
			Endpoint: "https://metrics.babcialabs.com/api/v1/write",
		}},
	}, log))
}
