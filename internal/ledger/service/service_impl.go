package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/events"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	"github.com/babcialabs/babcia/pkg/db/option"
	"github.com/babcialabs/babcia/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	AuditSvc   auditdomain.Service
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics

	debitMu sync.Mutex
	debits  map[snowflake.ID]*sync.Mutex
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
		debits:     make(map[snowflake.ID]*sync.Mutex),
	}
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.Entry, error) {
	if req.Points <= 0 {
		return nil, ledgerdomain.ErrInvalidPoints
	}
	return s.append(ctx, req.UserID, req.BowlID, req.Kind, req.SourceID, req.Points, req.OccurredAt)
}

// CreditTx appends inside the caller's transaction so a state change
// and its ledger entry commit or roll back together. Idempotency is
// the same as Credit.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.CreditRequest) (*ledgerdomain.Entry, error) {
	if req.Points <= 0 {
		return nil, ledgerdomain.ErrInvalidPoints
	}

	entry, err := s.buildEntry(req.UserID, req.BowlID, req.Kind, req.SourceID, req.Points, req.OccurredAt)
	if err != nil {
		return nil, err
	}

	inserted, err := s.appendInTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.obsMetrics.RecordLedgerEntry(ctx, string(entry.Kind))
	}
	return entry, nil
}

func (s *Service) Debit(ctx context.Context, req ledgerdomain.DebitRequest) (*ledgerdomain.Entry, error) {
	if req.Points <= 0 {
		return nil, ledgerdomain.ErrInvalidPoints
	}
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}

	// Debits for one user are serialized so the balance check and the
	// insert observe the same fold.
	mu := s.debitLock(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	var balance int64
	if err := s.db.WithContext(ctx).
		Model(&ledgerdomain.Entry{}).
		Where("user_id = ?", req.UserID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&balance).Error; err != nil {
		return nil, err
	}
	if balance < req.Points {
		return nil, ledgerdomain.ErrInsufficientPoints
	}

	return s.append(ctx, req.UserID, nil, req.Kind, req.SourceID, -req.Points, req.OccurredAt)
}

func (s *Service) debitLock(userID snowflake.ID) *sync.Mutex {
	s.debitMu.Lock()
	defer s.debitMu.Unlock()
	mu, ok := s.debits[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.debits[userID] = mu
	}
	return mu
}

// append writes one signed entry in its own transaction.
func (s *Service) append(
	ctx context.Context,
	userID snowflake.ID,
	bowlID *snowflake.ID,
	kind ledgerdomain.EntryKind,
	sourceID string,
	points int64,
	occurredAt time.Time,
) (*ledgerdomain.Entry, error) {
	entry, err := s.buildEntry(userID, bowlID, kind, sourceID, points, occurredAt)
	if err != nil {
		return nil, err
	}

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		inserted, txErr = s.appendInTx(ctx, tx, entry)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		s.obsMetrics.RecordLedgerEntry(ctx, string(entry.Kind))
	}
	return entry, nil
}

func (s *Service) buildEntry(
	userID snowflake.ID,
	bowlID *snowflake.ID,
	kind ledgerdomain.EntryKind,
	sourceID string,
	points int64,
	occurredAt time.Time,
) (*ledgerdomain.Entry, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if !kind.Valid() {
		return nil, ledgerdomain.ErrInvalidKind
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, ledgerdomain.ErrInvalidSourceID
	}
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}

	return &ledgerdomain.Entry{
		ID:         s.genID.Generate(),
		UserID:     userID,
		BowlID:     bowlID,
		Kind:       kind,
		SourceID:   sourceID,
		Points:     points,
		OccurredAt: occurredAt.UTC(),
		CreatedAt:  s.clock.Now(),
	}, nil
}

// appendInTx inserts one entry inside tx. The (user_id, kind,
// source_id) unique index makes replays no-ops: when the insert
// conflicts the previously written row is loaded into entry and
// inserted is false.
func (s *Service) appendInTx(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.Entry) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, user_id, bowl_id, kind, source_id, points, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, kind, source_id) DO NOTHING`,
		entry.ID,
		entry.UserID,
		entry.BowlID,
		string(entry.Kind),
		entry.SourceID,
		entry.Points,
		entry.OccurredAt,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		err := tx.WithContext(ctx).
			Where("user_id = ? AND kind = ? AND source_id = ?", entry.UserID, string(entry.Kind), entry.SourceID).
			First(entry).Error
		return false, err
	}

	if s.outbox != nil {
		payload := events.LedgerEntryCreatedPayload{
			LedgerEntryID: entry.ID.String(),
			Kind:          string(entry.Kind),
			SourceID:      entry.SourceID,
			Points:        entry.Points,
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			UserID:    entry.UserID,
			Type:      events.EventLedgerEntryCreated,
			Payload:   payload.ToMap(),
			DedupeKey: "ledger_entry:" + entry.ID.String(),
		}); err != nil {
			return false, err
		}
	}

	entryIDStr := entry.ID.String()
	metadata := map[string]any{
		"kind":            string(entry.Kind),
		"source_id":       entry.SourceID,
		"points":          entry.Points,
		"ledger_entry_id": entryIDStr,
	}
	if s.auditSvc != nil {
		userID := entry.UserID
		if err := s.auditSvc.AuditLog(ctx, &userID, "", nil, "ledger.entry_created", "ledger_entry", &entryIDStr, metadata); err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
		}
	} else {
		s.log.Warn("audit service unavailable for ledger entry",
			zap.String("kind", string(entry.Kind)),
			zap.String("source_id", entry.SourceID),
		)
	}

	return true, nil
}

func (s *Service) BalanceOf(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}

	var balance int64
	err := s.db.WithContext(ctx).
		Model(&ledgerdomain.Entry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) Summarize(ctx context.Context, userID snowflake.ID) (ledgerdomain.Summary, error) {
	if userID == 0 {
		return ledgerdomain.Summary{}, ledgerdomain.ErrInvalidUser
	}

	var row struct {
		Balance int64
		Earned  int64
		Spent   int64
	}
	err := s.db.WithContext(ctx).
		Model(&ledgerdomain.Entry{}).
		Where("user_id = ?", userID).
		Select(`COALESCE(SUM(points), 0) AS balance,
			COALESCE(SUM(CASE WHEN points > 0 THEN points ELSE 0 END), 0) AS earned,
			COALESCE(SUM(CASE WHEN points < 0 THEN -points ELSE 0 END), 0) AS spent`).
		Scan(&row).Error
	if err != nil {
		return ledgerdomain.Summary{}, err
	}

	return ledgerdomain.Summary{
		Balance: row.Balance,
		Earned:  row.Earned,
		Spent:   row.Spent,
	}, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListEntriesRequest) (ledgerdomain.ListEntriesResponse, error) {
	if req.UserID == 0 {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidUser
	}

	pageSize := req.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	stmt := s.db.WithContext(ctx).
		Model(&ledgerdomain.Entry{}).
		Where("user_id = ?", req.UserID)
	if req.Kind != nil {
		stmt = stmt.Where("kind = ?", string(*req.Kind))
	}
	if req.BowlID != nil {
		stmt = stmt.Where("bowl_id = ?", *req.BowlID)
	}

	stmt = option.ApplyPagination(pagination.Pagination{
		PageToken: req.Pagination.PageToken,
		PageSize:  pageSize,
	}).Apply(stmt)
	stmt = option.WithSortBy(option.WithQuerySortBy("created_at", "desc", nil)).Apply(stmt)

	var entries []ledgerdomain.Entry
	if err := stmt.Find(&entries).Error; err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, pageSize, func(e ledgerdomain.Entry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String(), CreatedAt: e.CreatedAt.Format(time.RFC3339Nano)}
	})
	if pageInfo.HasMore {
		entries = entries[:pageSize]
	}

	return ledgerdomain.ListEntriesResponse{
		Entries:  entries,
		PageInfo: pageInfo,
	}, nil
}
