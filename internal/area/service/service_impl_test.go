package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	"github.com/babcialabs/babcia/internal/area/repository"
	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/identity"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	"github.com/babcialabs/babcia/internal/persona"
	personadomain "github.com/babcialabs/babcia/internal/persona/domain"
)

type auditStub struct {
	mu    sync.Mutex
	calls []string
}

func (a *auditStub) AuditLog(ctx context.Context, userID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, action)
	return nil
}

func (a *auditStub) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(t *testing.T) (areadomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&areadomain.Area{},
		&personadomain.Persona{},
		&bowldomain.Bowl{},
		&bowldomain.Task{},
		&bowldomain.VerificationAttempt{},
		&ledgerdomain.Entry{},
	))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_areas_user_slug ON areas(user_id, slug)")

	for _, p := range personadomain.Defaults() {
		db.Where("id = ?", p.ID).FirstOrCreate(&p)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		Personas: persona.NewRepository(db),
		AuditSvc: &auditStub{},
	})
	return svc, db, clk
}

func ctxFor(userID int64) context.Context {
	return identity.WithUserID(context.Background(), snowflake.ID(userID))
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := ctxFor(801)

	_, err := svc.Create(context.Background(), areadomain.CreateAreaRequest{Name: "Kitchen", Persona: "halina"})
	assert.ErrorIs(t, err, areadomain.ErrInvalidUser)

	_, err = svc.Create(ctx, areadomain.CreateAreaRequest{Name: "   ", Persona: "halina"})
	assert.ErrorIs(t, err, areadomain.ErrInvalidName)

	_, err = svc.Create(ctx, areadomain.CreateAreaRequest{Name: "Kitchen", Persona: "nobody"})
	assert.ErrorIs(t, err, areadomain.ErrInvalidPersona)

	_, err = svc.Create(ctx, areadomain.CreateAreaRequest{Name: "Kitchen", Persona: "halina", DailyBowlTarget: -2})
	assert.ErrorIs(t, err, areadomain.ErrInvalidTarget)

	area, err := svc.Create(ctx, areadomain.CreateAreaRequest{Name: "Kitchen Corner", Persona: "Halina"})
	require.NoError(t, err)
	assert.Equal(t, "Kitchen Corner", area.Name)
	assert.Equal(t, "kitchen-corner", area.Slug)
	assert.Equal(t, "halina", area.Persona)
	assert.Equal(t, 1, area.DailyBowlTarget)
	assert.NotZero(t, area.ID)
}

func TestCreate_DuplicateNamePerUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(ctxFor(802), areadomain.CreateAreaRequest{Name: "Pantry", Persona: "grazyna"})
	require.NoError(t, err)

	_, err = svc.Create(ctxFor(802), areadomain.CreateAreaRequest{Name: "Pantry", Persona: "grazyna"})
	assert.ErrorIs(t, err, areadomain.ErrDuplicateName)

	// Another user is free to reuse the name.
	_, err = svc.Create(ctxFor(803), areadomain.CreateAreaRequest{Name: "Pantry", Persona: "grazyna"})
	assert.NoError(t, err)
}

func TestUpdate_RenameKeepsSlugAndPersona(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := ctxFor(804)

	created, err := svc.Create(ctx, areadomain.CreateAreaRequest{Name: "Hall", Persona: "jadwiga"})
	require.NoError(t, err)

	name := "Hallway"
	target := 3
	updated, err := svc.Update(ctx, areadomain.UpdateAreaRequest{ID: created.ID.String(), Name: &name, DailyBowlTarget: &target})
	require.NoError(t, err)
	assert.Equal(t, "Hallway", updated.Name)
	assert.Equal(t, "hall", updated.Slug)
	assert.Equal(t, "jadwiga", updated.Persona)
	assert.Equal(t, 3, updated.DailyBowlTarget)

	fetched, err := svc.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Hallway", fetched.Name)
	assert.Equal(t, "hall", fetched.Slug)

	zero := 0
	_, err = svc.Update(ctx, areadomain.UpdateAreaRequest{ID: created.ID.String(), DailyBowlTarget: &zero})
	assert.ErrorIs(t, err, areadomain.ErrInvalidTarget)

	_, err = svc.Update(ctx, areadomain.UpdateAreaRequest{ID: "999999999", Name: &name})
	assert.ErrorIs(t, err, areadomain.ErrNotFound)
}

func TestDelete_CascadesBowlsButNotLedger(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := ctxFor(805)

	area, err := svc.Create(ctx, areadomain.CreateAreaRequest{Name: "Bathroom", Persona: "bozena"})
	require.NoError(t, err)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	bowl := bowldomain.Bowl{
		ID:         node.Generate(),
		UserID:     805,
		AreaID:     area.ID,
		State:      bowldomain.StateFinalized,
		BasePoints: 5,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(&bowl).Error)
	require.NoError(t, db.Create(&bowldomain.Task{
		ID:         node.Generate(),
		BowlID:     bowl.ID,
		Title:      "Wipe the sink",
		PointValue: 1,
	}).Error)
	require.NoError(t, db.Create(&bowldomain.VerificationAttempt{
		ID:             node.Generate(),
		BowlID:         bowl.ID,
		UserID:         805,
		Tier:           bowldomain.TierBlue,
		BeforePhotoRef: "photos/before.jpg",
		AfterPhotoRef:  "photos/after.jpg",
		Verdict:        "pass",
		JudgedAt:       time.Now().UTC(),
	}).Error)
	require.NoError(t, db.Create(&ledgerdomain.Entry{
		ID:         node.Generate(),
		UserID:     805,
		BowlID:     &bowl.ID,
		Kind:       ledgerdomain.EntryKindTaskTick,
		SourceID:   "task-1",
		Points:     1,
		OccurredAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}).Error)

	require.NoError(t, svc.Delete(ctx, area.ID.String()))

	var bowls, tasks, attempts, entries int64
	db.Model(&bowldomain.Bowl{}).Where("area_id = ?", area.ID).Count(&bowls)
	db.Model(&bowldomain.Task{}).Where("bowl_id = ?", bowl.ID).Count(&tasks)
	db.Model(&bowldomain.VerificationAttempt{}).Where("bowl_id = ?", bowl.ID).Count(&attempts)
	db.Model(&ledgerdomain.Entry{}).Where("user_id = ?", 805).Count(&entries)
	assert.Zero(t, bowls)
	assert.Zero(t, tasks)
	assert.Zero(t, attempts)
	assert.EqualValues(t, 1, entries, "ledger history survives area deletion")

	_, err = svc.GetByID(ctx, area.ID.String())
	assert.ErrorIs(t, err, areadomain.ErrNotFound)
}

func TestList_NewestFirstWithPaging(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := ctxFor(806)

	for _, name := range []string{"Attic", "Balcony", "Cellar"} {
		_, err := svc.Create(ctx, areadomain.CreateAreaRequest{Name: name, Persona: "krysia"})
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	page, err := svc.List(ctx, areadomain.ListAreaRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Areas, 2)
	assert.Equal(t, "Cellar", page.Areas[0].Name)
	assert.Equal(t, "Balcony", page.Areas[1].Name)
	assert.True(t, page.PageInfo.HasMore)
	require.NotEmpty(t, page.PageInfo.NextPageToken)

	rest, err := svc.List(ctx, areadomain.ListAreaRequest{PageSize: 2, PageToken: page.PageInfo.NextPageToken})
	require.NoError(t, err)
	require.Len(t, rest.Areas, 1)
	assert.Equal(t, "Attic", rest.Areas[0].Name)
	assert.False(t, rest.PageInfo.HasMore)
}

func TestGetByID_ScopedToOwner(t *testing.T) {
	svc, _, _ := newTestService(t)

	area, err := svc.Create(ctxFor(807), areadomain.CreateAreaRequest{Name: "Garage", Persona: "halina"})
	require.NoError(t, err)

	_, err = svc.GetByID(ctxFor(808), area.ID.String())
	assert.ErrorIs(t, err, areadomain.ErrNotFound)
}
