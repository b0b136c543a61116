package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/events"
	"github.com/babcialabs/babcia/internal/identity"
	personadomain "github.com/babcialabs/babcia/internal/persona/domain"
	"github.com/babcialabs/babcia/pkg/db"
	"github.com/babcialabs/babcia/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     areadomain.Repository
	Personas personadomain.Repository
	AuditSvc auditdomain.Service
	Outbox   *events.Outbox `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     areadomain.Repository
	personas personadomain.Repository
	auditSvc auditdomain.Service
	outbox   *events.Outbox
}

func NewService(p Params) areadomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("area.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		personas: p.Personas,
		auditSvc: p.AuditSvc,
		outbox:   p.Outbox,
	}
}

func (s *Service) Create(ctx context.Context, req areadomain.CreateAreaRequest) (areadomain.Area, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return areadomain.Area{}, areadomain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return areadomain.Area{}, areadomain.ErrInvalidName
	}

	personaID := strings.ToLower(strings.TrimSpace(req.Persona))
	if personaID == "" {
		return areadomain.Area{}, areadomain.ErrInvalidPersona
	}
	exists, err := s.personas.Exists(ctx, personaID)
	if err != nil {
		return areadomain.Area{}, err
	}
	if !exists {
		return areadomain.Area{}, areadomain.ErrInvalidPersona
	}

	target := req.DailyBowlTarget
	if target == 0 {
		target = 1
	}
	if target < 1 {
		return areadomain.Area{}, areadomain.ErrInvalidTarget
	}

	now := s.clock.Now()
	area := areadomain.Area{
		ID:              s.genID.Generate(),
		UserID:          userID,
		Name:            name,
		Slug:            slug.Make(name),
		Persona:         personaID,
		DailyBowlTarget: target,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &area); err != nil {
			return err
		}
		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   events.EventAreaCreated,
				Payload: map[string]any{
					"area_id": area.ID.String(),
					"name":    area.Name,
					"persona": area.Persona,
				},
				DedupeKey: "area_created:" + area.ID.String(),
			})
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return areadomain.Area{}, areadomain.ErrDuplicateName
		}
		return areadomain.Area{}, err
	}

	s.audit(ctx, userID, "area.created", area.ID, map[string]any{
		"name":    area.Name,
		"persona": area.Persona,
	})
	return area, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (areadomain.Area, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return areadomain.Area{}, areadomain.ErrInvalidUser
	}

	areaID, err := parseID(id)
	if err != nil {
		return areadomain.Area{}, err
	}

	area, err := s.repo.FindByID(ctx, s.db, userID, areaID)
	if err != nil {
		return areadomain.Area{}, err
	}
	if area == nil {
		return areadomain.Area{}, areadomain.ErrNotFound
	}
	return *area, nil
}

func (s *Service) List(ctx context.Context, req areadomain.ListAreaRequest) (areadomain.ListAreaResponse, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return areadomain.ListAreaResponse{}, areadomain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, userID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return areadomain.ListAreaResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(area *areadomain.Area) pagination.Cursor {
		return pagination.Cursor{
			ID:        area.ID.String(),
			CreatedAt: area.CreatedAt.Format(time.RFC3339Nano),
		}
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	areas := make([]areadomain.Area, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		areas = append(areas, *item)
	}

	return areadomain.ListAreaResponse{Areas: areas, PageInfo: pageInfo}, nil
}

func (s *Service) Update(ctx context.Context, req areadomain.UpdateAreaRequest) (areadomain.Area, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return areadomain.Area{}, areadomain.ErrInvalidUser
	}

	areaID, err := parseID(req.ID)
	if err != nil {
		return areadomain.Area{}, err
	}

	area, err := s.repo.FindByID(ctx, s.db, userID, areaID)
	if err != nil {
		return areadomain.Area{}, err
	}
	if area == nil {
		return areadomain.Area{}, areadomain.ErrNotFound
	}

	changed := false
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return areadomain.Area{}, areadomain.ErrInvalidName
		}
		// The slug is pinned at creation; renames keep it stable.
		area.Name = name
		changed = true
	}
	if req.DailyBowlTarget != nil {
		if *req.DailyBowlTarget < 1 {
			return areadomain.Area{}, areadomain.ErrInvalidTarget
		}
		area.DailyBowlTarget = *req.DailyBowlTarget
		changed = true
	}
	if !changed {
		return *area, nil
	}

	area.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, area); err != nil {
		return areadomain.Area{}, err
	}

	s.audit(ctx, userID, "area.updated", area.ID, map[string]any{
		"name":              area.Name,
		"daily_bowl_target": area.DailyBowlTarget,
	})
	return *area, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return areadomain.ErrInvalidUser
	}

	areaID, err := parseID(id)
	if err != nil {
		return err
	}

	area, err := s.repo.FindByID(ctx, s.db, userID, areaID)
	if err != nil {
		return err
	}
	if area == nil {
		return areadomain.ErrNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Cascade: the area owns its bowls, which own tasks and
		// verification attempts. Ledger entries are append-only and
		// deliberately survive.
		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM verification_attempts WHERE bowl_id IN (SELECT id FROM bowls WHERE area_id = ?)`,
			areaID,
		).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM tasks WHERE bowl_id IN (SELECT id FROM bowls WHERE area_id = ?)`,
			areaID,
		).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM bowls WHERE area_id = ?`,
			areaID,
		).Error; err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, userID, areaID); err != nil {
			return err
		}
		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   events.EventAreaDeleted,
				Payload: map[string]any{
					"area_id": areaID.String(),
					"name":    area.Name,
				},
				DedupeKey: "area_deleted:" + areaID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit(ctx, userID, "area.deleted", areaID, map[string]any{"name": area.Name})
	return nil
}

func (s *Service) audit(ctx context.Context, userID snowflake.ID, action string, areaID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := areaID.String()
	if err := s.auditSvc.AuditLog(ctx, &userID, "", nil, action, "area", &targetID, metadata); err != nil {
		s.log.Warn("failed to write area audit log", zap.String("action", action), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, areadomain.ErrInvalidID
	}
	return id, nil
}
