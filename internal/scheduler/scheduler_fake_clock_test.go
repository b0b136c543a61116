package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	authrepository "github.com/babcialabs/babcia/internal/auth/repository"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/config"
	dashboarddomain "github.com/babcialabs/babcia/internal/dashboard/domain"
	"github.com/babcialabs/babcia/internal/dashboard/rollup"
	"github.com/babcialabs/babcia/internal/events"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	visiondomain "github.com/babcialabs/babcia/internal/vision/domain"
)

type recordedAudit struct {
	UserID   *snowflake.ID
	Action   string
	TargetID *string
	Metadata map[string]any
}

type recordingAuditSvc struct {
	mu   sync.Mutex
	rows []recordedAudit
}

func (m *recordingAuditSvc) AuditLog(ctx context.Context, userID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, recordedAudit{UserID: userID, Action: action, TargetID: targetID, Metadata: metadata})
	return nil
}

func (m *recordingAuditSvc) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (m *recordingAuditSvc) byAction(action string) []recordedAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedAudit
	for _, row := range m.rows {
		if row.Action == action {
			out = append(out, row)
		}
	}
	return out
}

type allowAllAuthz struct{}

func (allowAllAuthz) Authorize(ctx context.Context, actor, object, action string) error {
	return nil
}

type recordingDispatcher struct {
	events []events.OutboxEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event events.OutboxEvent) error {
	d.events = append(d.events, event)
	return nil
}

// TestScheduler_RunOnce_FakeClock drives two simulated days through
// every job: outbox drain into day stats, a rebuild for a second user,
// session purge and the verification sweep.
func TestScheduler_RunOnce_FakeClock(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&authdomain.User{},
		&authdomain.Session{},
		&areadomain.Area{},
		&bowldomain.Bowl{},
		&bowldomain.Task{},
		&bowldomain.VerificationAttempt{},
		&ledgerdomain.Entry{},
		&events.OutboxEvent{},
		&dashboarddomain.UserDayStats{},
		&dashboarddomain.AreaStats{},
		&dashboarddomain.StatsRebuildRequest{},
	))

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "babcia", Environment: "test"})

	node, err := snowflake.NewNode(13)
	require.NoError(t, err)

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	fakeClock := clock.NewFakeClock(start)

	dispatcher := &recordingDispatcher{}
	rollupSvc := rollup.NewService(rollup.Params{
		Config:     config.Config{StreakTimezone: "UTC"},
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fakeClock,
		Dispatcher: dispatcher,
	})

	_, sessions := authrepository.New(db)
	auditSvc := &recordingAuditSvc{}

	sched, err := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		AuditSvc:  auditSvc,
		AuthzSvc:  allowAllAuthz{},
		Sessions:  sessions,
		RollupSvc: rollupSvc,
		GenID:     node,
		Clock:     fakeClock,
		Config: Config{
			BatchSize:           10,
			VerificationTimeout: 12 * time.Hour,
			MaxRebuildBatchSize: 5,
			MaxSweepBatchSize:   5,
		},
	})
	require.NoError(t, err)

	// User one: an awaiting bowl, two pending outbox events and two
	// sessions, one of them already expired.
	userOne := node.Generate()
	require.NoError(t, db.Create(&authdomain.User{
		ID: userOne, Email: "zosia@example.com", DisplayName: "Zosia",
		CreatedAt: start, UpdatedAt: start,
	}).Error)

	areaOne := node.Generate()
	require.NoError(t, db.Create(&areadomain.Area{
		ID: areaOne, UserID: userOne, Name: "Kitchen", Slug: "kitchen",
		Persona: "ciocia_hania", CreatedAt: start, UpdatedAt: start,
	}).Error)

	tier := bowldomain.TierBlue
	awaitingBowl := bowldomain.Bowl{
		ID: node.Generate(), UserID: userOne, AreaID: areaOne,
		State:               bowldomain.StateAwaitingVerificationPhoto,
		VerificationEnabled: true,
		PhotoRef:            "photos/kitchen-before",
		Persona:             "ciocia_hania",
		BasePoints:          5,
		Tier:                &tier,
		CreatedAt:           start.Add(-time.Hour),
		UpdatedAt:           start,
	}
	require.NoError(t, db.Create(&awaitingBowl).Error)

	require.NoError(t, db.Create(&authdomain.Session{
		ID: node.Generate(), UserID: userOne, SessionTokenHash: "hash-expired",
		ExpiresAt: start.Add(-time.Hour), CreatedAt: start.Add(-25 * time.Hour), LastSeenAt: start.Add(-2 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&authdomain.Session{
		ID: node.Generate(), UserID: userOne, SessionTokenHash: "hash-live",
		ExpiresAt: start.Add(72 * time.Hour), CreatedAt: start, LastSeenAt: start,
	}).Error)

	require.NoError(t, db.Create(&events.OutboxEvent{
		ID: node.Generate(), UserID: userOne, EventType: events.EventBowlCreated,
		Payload:   datatypes.JSONMap{"bowl_id": awaitingBowl.ID.String()},
		CreatedAt: start,
	}).Error)
	require.NoError(t, db.Create(&events.OutboxEvent{
		ID: node.Generate(), UserID: userOne, EventType: events.EventLedgerEntryCreated,
		Payload:   datatypes.JSONMap{"kind": string(ledgerdomain.EntryKindTaskTick), "points": 5},
		CreatedAt: start,
	}).Error)

	// User two: finalized history in the source tables plus a queued
	// rebuild, so daily_rollup reconstructs the snapshots from scratch.
	userTwo := node.Generate()
	require.NoError(t, db.Create(&authdomain.User{
		ID: userTwo, Email: "stefan@example.com", DisplayName: "Stefan",
		CreatedAt: start.Add(-48 * time.Hour), UpdatedAt: start,
	}).Error)

	areaTwo := node.Generate()
	require.NoError(t, db.Create(&areadomain.Area{
		ID: areaTwo, UserID: userTwo, Name: "Bathroom", Slug: "bathroom",
		Persona: "pan_heniek", CreatedAt: start.Add(-48 * time.Hour), UpdatedAt: start,
	}).Error)

	finalizedAt := start.Add(-2 * time.Hour)
	finalPoints := int64(20)
	verdict := string(visiondomain.VerdictPass)
	goldenTier := bowldomain.TierGolden
	finalizedBowl := bowldomain.Bowl{
		ID: node.Generate(), UserID: userTwo, AreaID: areaTwo,
		State:               bowldomain.StateFinalized,
		VerificationEnabled: true,
		PhotoRef:            "photos/bathroom-before",
		Persona:             "pan_heniek",
		BasePoints:          5,
		Tier:                &goldenTier,
		Verdict:             &verdict,
		FinalPoints:         &finalPoints,
		FinalizedAt:         &finalizedAt,
		CreatedAt:           start.Add(-3 * time.Hour),
		UpdatedAt:           finalizedAt,
	}
	require.NoError(t, db.Create(&finalizedBowl).Error)

	tickedAt := start.Add(-3 * time.Hour)
	require.NoError(t, db.Create(&bowldomain.Task{
		ID: node.Generate(), BowlID: finalizedBowl.ID, Title: "Scrub the tub",
		PointValue: 5, Ticked: true, TickedAt: &tickedAt, CreatedAt: start.Add(-3 * time.Hour),
	}).Error)

	require.NoError(t, db.Create(&ledgerdomain.Entry{
		ID: node.Generate(), UserID: userTwo, Kind: ledgerdomain.EntryKindTaskTick,
		SourceID: "task-1", Points: 5, OccurredAt: tickedAt, CreatedAt: tickedAt,
	}).Error)
	require.NoError(t, db.Create(&ledgerdomain.Entry{
		ID: node.Generate(), UserID: userTwo, Kind: ledgerdomain.EntryKindVerificationBonus,
		SourceID: finalizedBowl.ID.String(), Points: 15, OccurredAt: finalizedAt, CreatedAt: finalizedAt,
	}).Error)

	require.NoError(t, db.Create(&bowldomain.VerificationAttempt{
		ID: node.Generate(), BowlID: finalizedBowl.ID, UserID: userTwo,
		Tier: bowldomain.TierGolden, BeforePhotoRef: "photos/before", AfterPhotoRef: "photos/after",
		Verdict: visiondomain.VerdictPass, Confidence: 0.93, Commentary: "Spotless.",
		JudgedAt: finalizedAt, CreatedAt: finalizedAt,
	}).Error)

	require.NoError(t, db.Create(&dashboarddomain.StatsRebuildRequest{
		ID: node.Generate(), UserID: &userTwo, Status: "pending", CreatedAt: start,
	}).Error)

	ctx := context.Background()

	// Day one. The outbox drains, user two's snapshots are rebuilt and
	// the expired session goes away. The awaiting bowl is younger than
	// the 12h timeout and must survive.
	require.NoError(t, sched.RunOnce(ctx))

	var dayOne dashboarddomain.UserDayStats
	require.NoError(t, db.Where("user_id = ? AND day = ?", userOne, "2025-06-01").First(&dayOne).Error)
	require.EqualValues(t, 1, dayOne.BowlsCreated)
	require.EqualValues(t, 5, dayOne.PointsEarned)

	var pendingEvents int64
	require.NoError(t, db.Model(&events.OutboxEvent{}).Where("published = ?", false).Count(&pendingEvents).Error)
	require.Zero(t, pendingEvents)
	require.Len(t, dispatcher.events, 2)

	var rebuilt dashboarddomain.UserDayStats
	require.NoError(t, db.Where("user_id = ? AND day = ?", userTwo, "2025-06-01").First(&rebuilt).Error)
	require.EqualValues(t, 1, rebuilt.BowlsCreated)
	require.EqualValues(t, 1, rebuilt.BowlsFinalized)
	require.EqualValues(t, 1, rebuilt.TasksTicked)
	require.EqualValues(t, 20, rebuilt.PointsEarned)
	require.EqualValues(t, 1, rebuilt.VerificationsPassed)

	var areaStats dashboarddomain.AreaStats
	require.NoError(t, db.Where("area_id = ?", areaTwo).First(&areaStats).Error)
	require.EqualValues(t, 1, areaStats.BowlsFinalized)
	require.EqualValues(t, 20, areaStats.PointsTotal)

	var request dashboarddomain.StatsRebuildRequest
	require.NoError(t, db.Where("user_id = ?", userTwo).First(&request).Error)
	require.Equal(t, "completed", request.Status)

	var sessionCount int64
	require.NoError(t, db.Model(&authdomain.Session{}).Count(&sessionCount).Error)
	require.EqualValues(t, 1, sessionCount)
	purged := auditSvc.byAction("auth.sessions_purged")
	require.Len(t, purged, 1)

	var bowlAfterDayOne bowldomain.Bowl
	require.NoError(t, db.First(&bowlAfterDayOne, "id = ?", awaitingBowl.ID).Error)
	require.Equal(t, bowldomain.StateAwaitingVerificationPhoto, bowlAfterDayOne.State)

	// Day two. The awaiting bowl is now 24h old, past the 12h timeout,
	// and the sweep returns it to all_tasks_complete.
	fakeClock.Advance(24 * time.Hour)
	require.NoError(t, sched.RunOnce(ctx))

	var sweptBowl bowldomain.Bowl
	require.NoError(t, db.First(&sweptBowl, "id = ?", awaitingBowl.ID).Error)
	require.Equal(t, bowldomain.StateAllTasksComplete, sweptBowl.State)
	require.Nil(t, sweptBowl.Tier)

	expired := auditSvc.byAction("bowl.verification_expired")
	require.Len(t, expired, 1)
	require.NotNil(t, expired[0].UserID)
	require.Equal(t, userOne, *expired[0].UserID)
	require.NotNil(t, expired[0].TargetID)
	require.Equal(t, awaitingBowl.ID.String(), *expired[0].TargetID)
	require.Equal(t, "blue", expired[0].Metadata["tier"])

	// The live session survives both days and the sweep never touches
	// finalized bowls.
	require.NoError(t, db.Model(&authdomain.Session{}).Count(&sessionCount).Error)
	require.EqualValues(t, 1, sessionCount)
	var untouched bowldomain.Bowl
	require.NoError(t, db.First(&untouched, "id = ?", finalizedBowl.ID).Error)
	require.Equal(t, bowldomain.StateFinalized, untouched.State)

	sweepLabels := map[string]string{
		"service": "babcia", "env": "test",
		"job": "verification_sweep", "resource": "bowls",
	}
	require.EqualValues(t, 1, getCounterValue(t, registry, "babcia_scheduler_batch_processed_total", sweepLabels))
	purgeLabels := map[string]string{
		"service": "babcia", "env": "test",
		"job": "session_purge", "resource": "sessions",
	}
	require.EqualValues(t, 1, getCounterValue(t, registry, "babcia_scheduler_batch_processed_total", purgeLabels))
}
