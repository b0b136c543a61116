package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/clock"
	eligibilitydomain "github.com/babcialabs/babcia/internal/eligibility/domain"
	"github.com/babcialabs/babcia/internal/events"
	"github.com/babcialabs/babcia/internal/identity"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	streakdomain "github.com/babcialabs/babcia/internal/streak/domain"
	visiondomain "github.com/babcialabs/babcia/internal/vision/domain"
	"github.com/babcialabs/babcia/pkg/db"
	"github.com/babcialabs/babcia/pkg/db/option"
	"github.com/babcialabs/babcia/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Vision      visiondomain.Provider
	Ledger      ledgerdomain.Service
	Streak      streakdomain.Tracker
	Eligibility eligibilitydomain.Policy
	AreaRepo    areadomain.Repository
	AuditSvc    auditdomain.Service
	Outbox      *events.Outbox      `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	vision      visiondomain.Provider
	ledger      ledgerdomain.Service
	streak      streakdomain.Tracker
	eligibility eligibilitydomain.Policy
	areaRepo    areadomain.Repository
	auditSvc    auditdomain.Service
	outbox      *events.Outbox
	obsMetrics  *obsmetrics.Metrics

	// One writer per bowl. Every state transition takes the bowl's
	// mutex first, so ticks and finalizations racing on the same bowl
	// serialize instead of double writing.
	lockMu sync.Mutex
	locks  map[snowflake.ID]*sync.Mutex
}

func NewService(p Params) bowldomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("bowl.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		vision:      p.Vision,
		ledger:      p.Ledger,
		streak:      p.Streak,
		eligibility: p.Eligibility,
		areaRepo:    p.AreaRepo,
		auditSvc:    p.AuditSvc,
		outbox:      p.Outbox,
		obsMetrics:  p.ObsMetrics,
		locks:       make(map[snowflake.ID]*sync.Mutex),
	}
}

func (s *Service) Create(ctx context.Context, req bowldomain.CreateBowlRequest) (bowldomain.BowlDetail, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidUser
	}

	areaID, err := snowflake.ParseString(strings.TrimSpace(req.AreaID))
	if err != nil || areaID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidAreaID
	}
	photoRef := strings.TrimSpace(req.PhotoRef)
	if photoRef == "" {
		return bowldomain.BowlDetail{}, bowldomain.ErrMissingPhoto
	}

	area, err := s.areaRepo.FindByID(ctx, s.db, userID, areaID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	if area == nil {
		return bowldomain.BowlDetail{}, areadomain.ErrNotFound
	}

	suggestions, err := s.vision.GenerateTasks(ctx, visiondomain.GenerateTasksRequest{
		AreaID:   areaID,
		AreaName: area.Name,
		Persona:  area.Persona,
		PhotoRef: photoRef,
	})
	if err != nil {
		if errors.Is(err, visiondomain.ErrInvalidPhoto) {
			return bowldomain.BowlDetail{}, bowldomain.ErrMissingPhoto
		}
		return bowldomain.BowlDetail{}, err
	}
	suggestions = visiondomain.NormalizeSuggestions(suggestions)

	now := s.clock.Now()
	if len(suggestions) == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrNoTasksGenerated
	}

	bowl := bowldomain.Bowl{
		ID:                  s.genID.Generate(),
		UserID:              userID,
		AreaID:              areaID,
		State:               bowldomain.StateOpen,
		VerificationEnabled: req.VerificationEnabled,
		PhotoRef:            photoRef,
		Persona:             area.Persona,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	tasks := make([]bowldomain.Task, 0, len(suggestions))
	for _, suggestion := range suggestions {
		bowl.BasePoints += suggestion.PointValue
		tasks = append(tasks, bowldomain.Task{
			ID:         s.genID.Generate(),
			BowlID:     bowl.ID,
			Title:      suggestion.Title,
			PointValue: suggestion.PointValue,
			CreatedAt:  now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(&bowl).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(&tasks).Error; err != nil {
			return err
		}
		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   events.EventBowlCreated,
				Payload: map[string]any{
					"bowl_id":     bowl.ID.String(),
					"area_id":     areaID.String(),
					"task_count":  len(tasks),
					"base_points": bowl.BasePoints,
				},
				DedupeKey: "bowl_created:" + bowl.ID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	// Only a committed bowl counts toward the streak: a photo of an
	// already-clean area creates nothing and extends nothing.
	if _, err := s.streak.RecordAreaPhoto(ctx, userID, now); err != nil {
		s.log.Warn("failed to record streak for area photo",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}

	s.obsMetrics.RecordBowlCreated(ctx, len(tasks))
	s.audit(ctx, userID, "bowl.created", bowl.ID, map[string]any{
		"area_id":     areaID.String(),
		"task_count":  len(tasks),
		"base_points": bowl.BasePoints,
	})

	return bowldomain.BowlDetail{Bowl: bowl, Tasks: tasks}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (bowldomain.BowlDetail, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidUser
	}

	bowlID, err := parseBowlID(id)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	bowl, err := s.loadBowl(ctx, s.db, userID, bowlID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	return s.loadDetail(ctx, *bowl)
}

func (s *Service) List(ctx context.Context, req bowldomain.ListBowlsRequest) (bowldomain.ListBowlsResponse, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.ListBowlsResponse{}, bowldomain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	stmt := s.db.WithContext(ctx).
		Model(&bowldomain.Bowl{}).
		Where("user_id = ?", userID)
	if strings.TrimSpace(req.AreaID) != "" {
		areaID, err := snowflake.ParseString(strings.TrimSpace(req.AreaID))
		if err != nil {
			return bowldomain.ListBowlsResponse{}, bowldomain.ErrInvalidAreaID
		}
		stmt = stmt.Where("area_id = ?", areaID)
	}
	if req.State != nil {
		if !req.State.Valid() {
			return bowldomain.ListBowlsResponse{}, bowldomain.ErrInvalidTransition
		}
		stmt = stmt.Where("state = ?", string(*req.State))
	}

	stmt = option.ApplyPagination(pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	}).Apply(stmt)
	stmt = option.WithSortBy(option.WithQuerySortBy("created_at", "desc", nil)).Apply(stmt)

	var bowls []bowldomain.Bowl
	if err := stmt.Find(&bowls).Error; err != nil {
		return bowldomain.ListBowlsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(bowls, pageSize, func(b bowldomain.Bowl) pagination.Cursor {
		return pagination.Cursor{ID: b.ID.String(), CreatedAt: b.CreatedAt.Format(time.RFC3339Nano)}
	})
	if pageInfo.HasMore {
		bowls = bowls[:pageSize]
	}

	return bowldomain.ListBowlsResponse{Bowls: bowls, PageInfo: pageInfo}, nil
}

func (s *Service) TickTask(ctx context.Context, bowlID, taskID string) (bowldomain.BowlDetail, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidUser
	}

	id, err := parseBowlID(bowlID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	tid, err := snowflake.ParseString(strings.TrimSpace(taskID))
	if err != nil || tid == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrTaskNotFound
	}

	mu := s.bowlLock(id)
	mu.Lock()
	defer mu.Unlock()

	var bowl bowldomain.Bowl
	completed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadBowlForUpdate(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		bowl = *loaded
		if bowl.State != bowldomain.StateOpen {
			return bowldomain.ErrInvalidTransition
		}

		var task bowldomain.Task
		err = tx.WithContext(ctx).
			Where("id = ? AND bowl_id = ?", tid, id).
			First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return bowldomain.ErrTaskNotFound
		}
		if err != nil {
			return err
		}

		// Ticks are one-way and each pays out exactly once, so a
		// repeat tick is a bad transition, not a repeatable call.
		if task.Ticked {
			return bowldomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		task.Ticked = true
		task.TickedAt = &now
		if err := tx.WithContext(ctx).Save(&task).Error; err != nil {
			return err
		}

		if _, err := s.ledger.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
			UserID:     userID,
			BowlID:     &bowl.ID,
			Kind:       ledgerdomain.EntryKindTaskTick,
			SourceID:   task.ID.String(),
			Points:     task.PointValue,
			OccurredAt: now,
		}); err != nil {
			return err
		}

		var remaining int64
		if err := tx.WithContext(ctx).
			Model(&bowldomain.Task{}).
			Where("bowl_id = ? AND ticked = ?", id, false).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			bowl.State = bowldomain.StateAllTasksComplete
			completed = true
		}
		bowl.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&bowl).Error; err != nil {
			return err
		}

		if s.outbox != nil {
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   events.EventTaskTicked,
				Payload: map[string]any{
					"bowl_id":     bowl.ID.String(),
					"task_id":     task.ID.String(),
					"point_value": task.PointValue,
				},
				DedupeKey: "task_ticked:" + task.ID.String(),
			}); err != nil {
				return err
			}
			if completed {
				if err := s.outbox.PublishTx(ctx, tx, events.Event{
					UserID: userID,
					Type:   events.EventBowlTasksCompleted,
					Payload: map[string]any{
						"bowl_id":     bowl.ID.String(),
						"base_points": bowl.BasePoints,
					},
					DedupeKey: "tasks_completed:" + bowl.ID.String(),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	s.obsMetrics.RecordTaskTicked(ctx)
	if completed {
		s.audit(ctx, userID, "bowl.tasks_completed", bowl.ID, map[string]any{
			"base_points": bowl.BasePoints,
		})
	}

	return s.loadDetail(ctx, bowl)
}

func (s *Service) FinishWithoutVerifying(ctx context.Context, bowlID string) (bowldomain.BowlDetail, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidUser
	}

	id, err := parseBowlID(bowlID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	mu := s.bowlLock(id)
	mu.Lock()
	defer mu.Unlock()

	var bowl bowldomain.Bowl
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadBowlForUpdate(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		bowl = *loaded
		if bowl.State != bowldomain.StateAllTasksComplete {
			return bowldomain.ErrInvalidTransition
		}

		// Unverified finishes settle at base. The task ticks already
		// paid it out, so no ledger entry is written here.
		now := s.clock.Now()
		final := bowl.BasePoints
		bowl.State = bowldomain.StateFinalized
		bowl.FinalPoints = &final
		bowl.FinalizedAt = &now
		bowl.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&bowl).Error; err != nil {
			return err
		}

		if s.outbox != nil {
			payload := events.BowlFinalizedPayload{
				BowlID:     bowl.ID.String(),
				AreaID:     bowl.AreaID.String(),
				BasePoints: bowl.BasePoints,
				Total:      final,
			}
			return s.outbox.PublishTx(ctx, tx, events.Event{
				UserID:    userID,
				Type:      events.EventBowlFinalized,
				Payload:   payload.ToMap(),
				DedupeKey: "bowl_finalized:" + bowl.ID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	s.obsMetrics.RecordBowlFinalized(ctx, "unverified", "")
	s.audit(ctx, userID, "bowl.finished_unverified", bowl.ID, map[string]any{
		"total": bowl.BasePoints,
	})

	return s.loadDetail(ctx, bowl)
}

func (s *Service) RequestVerification(ctx context.Context, bowlID string, tier bowldomain.VerificationTier) (bowldomain.BowlDetail, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidUser
	}

	id, err := parseBowlID(bowlID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	if !tier.Valid() {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidTier
	}

	mu := s.bowlLock(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.loadBowl(ctx, s.db, userID, id)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	if current.State != bowldomain.StateAllTasksComplete {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidTransition
	}
	if !current.VerificationEnabled {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidTransition
	}

	// The golden gate is consulted fresh on every request. A refusal
	// leaves the bowl exactly where it was.
	if tier == bowldomain.TierGolden {
		decision, err := s.eligibility.IsEligible(ctx, eligibilitydomain.Request{
			UserID: userID,
			AreaID: current.AreaID,
		})
		if err != nil {
			return bowldomain.BowlDetail{}, err
		}
		if !decision.Eligible {
			s.log.Info("golden verification refused",
				zap.String("user_id", userID.String()),
				zap.String("bowl_id", id.String()),
				zap.String("reason", decision.Reason),
			)
			return bowldomain.BowlDetail{}, bowldomain.ErrNotEligible
		}
	}

	var bowl bowldomain.Bowl
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadBowlForUpdate(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		bowl = *loaded
		if bowl.State != bowldomain.StateAllTasksComplete || !bowl.VerificationEnabled {
			return bowldomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		bowl.State = bowldomain.StateAwaitingVerificationPhoto
		bowl.Tier = &tier
		bowl.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&bowl).Error; err != nil {
			return err
		}

		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   events.EventVerificationRequested,
				Payload: map[string]any{
					"bowl_id": bowl.ID.String(),
					"tier":    string(tier),
				},
				DedupeKey: "verification_requested:" + bowl.ID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	s.audit(ctx, userID, "bowl.verification_requested", bowl.ID, map[string]any{
		"tier": string(tier),
	})

	return s.loadDetail(ctx, bowl)
}

func (s *Service) SubmitVerification(ctx context.Context, req bowldomain.SubmitVerificationRequest) (bowldomain.BowlDetail, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidUser
	}

	id, err := parseBowlID(req.BowlID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	before := strings.TrimSpace(req.BeforePhotoRef)
	after := strings.TrimSpace(req.AfterPhotoRef)
	if before == "" || after == "" {
		return bowldomain.BowlDetail{}, bowldomain.ErrMissingPhoto
	}

	mu := s.bowlLock(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.loadBowl(ctx, s.db, userID, id)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	if current.State != bowldomain.StateAwaitingVerificationPhoto || current.Tier == nil {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidTransition
	}
	tier := *current.Tier

	area, err := s.areaRepo.FindByID(ctx, s.db, userID, current.AreaID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	areaName := ""
	if area != nil {
		areaName = area.Name
	}

	var tasks []bowldomain.Task
	if err := s.db.WithContext(ctx).
		Where("bowl_id = ?", id).
		Order("id asc").
		Find(&tasks).Error; err != nil {
		return bowldomain.BowlDetail{}, err
	}
	titles := make([]string, 0, len(tasks))
	for _, task := range tasks {
		titles = append(titles, task.Title)
	}

	// The judge rules at most once per bowl. An unavailable judge is a
	// delivery failure: nothing below runs, the bowl stays awaiting and
	// the same photos may be resubmitted.
	judgement, err := s.vision.Judge(ctx, visiondomain.JudgeRequest{
		BowlID:         id,
		AreaName:       areaName,
		Persona:        current.Persona,
		Tier:           string(tier),
		Tasks:          titles,
		BeforePhotoRef: before,
		AfterPhotoRef:  after,
	})
	if err != nil {
		if errors.Is(err, visiondomain.ErrUnavailable) {
			return bowldomain.BowlDetail{}, bowldomain.ErrJudgeUnavailable
		}
		if errors.Is(err, visiondomain.ErrInvalidPhoto) {
			return bowldomain.BowlDetail{}, bowldomain.ErrMissingPhoto
		}
		return bowldomain.BowlDetail{}, err
	}
	if !judgement.Verdict.Valid() {
		return bowldomain.BowlDetail{}, visiondomain.ErrInvalidResponse
	}

	now := s.clock.Now()
	verdict := string(judgement.Verdict)
	total := bowldomain.VerifiedTotal(current.BasePoints, tier, judgement.Verdict)
	bonus := bowldomain.FinalizationBonus(current.BasePoints, tier, judgement.Verdict)

	attempt := bowldomain.VerificationAttempt{
		ID:             s.genID.Generate(),
		BowlID:         id,
		UserID:         userID,
		Tier:           tier,
		BeforePhotoRef: before,
		AfterPhotoRef:  after,
		Verdict:        judgement.Verdict,
		Confidence:     judgement.Confidence,
		Commentary:     judgement.Commentary,
		JudgedAt:       now,
		CreatedAt:      now,
	}

	var bowl bowldomain.Bowl
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadBowlForUpdate(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		bowl = *loaded
		if bowl.State != bowldomain.StateAwaitingVerificationPhoto {
			return bowldomain.ErrInvalidTransition
		}

		if err := tx.WithContext(ctx).Create(&attempt).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return bowldomain.ErrInvalidTransition
			}
			return err
		}

		bowl.State = bowldomain.StateFinalized
		bowl.Verdict = &verdict
		bowl.FinalPoints = &total
		bowl.FinalizedAt = &now
		bowl.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&bowl).Error; err != nil {
			return err
		}

		if bonus > 0 {
			if _, err := s.ledger.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
				UserID:     userID,
				BowlID:     &bowl.ID,
				Kind:       ledgerdomain.EntryKindVerificationBonus,
				SourceID:   bowl.ID.String(),
				Points:     bonus,
				OccurredAt: now,
			}); err != nil {
				return err
			}
		}

		if s.outbox != nil {
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   events.EventVerificationJudged,
				Payload: map[string]any{
					"bowl_id":    bowl.ID.String(),
					"tier":       string(tier),
					"verdict":    verdict,
					"confidence": judgement.Confidence,
				},
				DedupeKey: "verification_judged:" + bowl.ID.String(),
			}); err != nil {
				return err
			}
			payload := events.BowlFinalizedPayload{
				BowlID:     bowl.ID.String(),
				AreaID:     bowl.AreaID.String(),
				Tier:       string(tier),
				Verdict:    verdict,
				BasePoints: bowl.BasePoints,
				Total:      total,
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				UserID:    userID,
				Type:      events.EventBowlFinalized,
				Payload:   payload.ToMap(),
				DedupeKey: "bowl_finalized:" + bowl.ID.String(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	s.obsMetrics.RecordVerification(ctx, string(tier), verdict)
	s.obsMetrics.RecordBowlFinalized(ctx, string(tier), verdict)
	s.audit(ctx, userID, "bowl.verification_judged", bowl.ID, map[string]any{
		"tier":    string(tier),
		"verdict": verdict,
		"total":   total,
		"bonus":   bonus,
	})

	detail, err := s.loadDetail(ctx, bowl)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}
	detail.Attempt = &attempt
	return detail, nil
}

func (s *Service) AbandonVerification(ctx context.Context, bowlID string) (bowldomain.BowlDetail, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return bowldomain.BowlDetail{}, bowldomain.ErrInvalidUser
	}

	id, err := parseBowlID(bowlID)
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	mu := s.bowlLock(id)
	mu.Lock()
	defer mu.Unlock()

	var bowl bowldomain.Bowl
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadBowlForUpdate(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		bowl = *loaded
		if bowl.State != bowldomain.StateAwaitingVerificationPhoto {
			return bowldomain.ErrInvalidTransition
		}

		bowl.State = bowldomain.StateAllTasksComplete
		bowl.Tier = nil
		bowl.UpdatedAt = s.clock.Now()
		return tx.WithContext(ctx).Save(&bowl).Error
	})
	if err != nil {
		return bowldomain.BowlDetail{}, err
	}

	s.audit(ctx, userID, "bowl.verification_abandoned", bowl.ID, nil)
	return s.loadDetail(ctx, bowl)
}

func (s *Service) audit(ctx context.Context, userID snowflake.ID, action string, bowlID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := bowlID.String()
	if err := s.auditSvc.AuditLog(ctx, &userID, "", nil, action, "bowl", &targetID, metadata); err != nil {
		s.log.Warn("failed to write bowl audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) bowlLock(id snowflake.ID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

func (s *Service) loadBowl(ctx context.Context, tx *gorm.DB, userID, id snowflake.ID) (*bowldomain.Bowl, error) {
	var bowl bowldomain.Bowl
	err := tx.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&bowl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bowldomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bowl, nil
}

func (s *Service) loadBowlForUpdate(ctx context.Context, tx *gorm.DB, userID, id snowflake.ID) (*bowldomain.Bowl, error) {
	var bowl bowldomain.Bowl
	err := lockForUpdate(tx.WithContext(ctx)).
		Where("id = ? AND user_id = ?", id, userID).
		First(&bowl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bowldomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bowl, nil
}

func (s *Service) loadDetail(ctx context.Context, bowl bowldomain.Bowl) (bowldomain.BowlDetail, error) {
	var tasks []bowldomain.Task
	if err := s.db.WithContext(ctx).
		Where("bowl_id = ?", bowl.ID).
		Order("id asc").
		Find(&tasks).Error; err != nil {
		return bowldomain.BowlDetail{}, err
	}

	detail := bowldomain.BowlDetail{Bowl: bowl, Tasks: tasks}

	var attempt bowldomain.VerificationAttempt
	err := s.db.WithContext(ctx).
		Where("bowl_id = ?", bowl.ID).
		First(&attempt).Error
	if err == nil {
		detail.Attempt = &attempt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return bowldomain.BowlDetail{}, err
	}

	return detail, nil
}

// lockForUpdate row-locks the read on databases that support it. sqlite
// has no row locks; its single writer serializes the transaction anyway.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func parseBowlID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, bowldomain.ErrInvalidID
	}
	return id, nil
}
