package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
)

//go:embed model.conf
var modelText string

// All policies live in the single household domain. There is no tenant
// dimension; roles alone decide access.
const policyDomain = "household"

const (
	ObjectAuditLog     = "audit_log"
	ObjectDashboard    = "dashboard"
	ObjectOutbox       = "outbox"
	ObjectRollup       = "rollup"
	ObjectSession      = "session"
	ObjectCloudMetrics = "cloud_metrics"
	ObjectVerification = "verification"
	ObjectShopCatalog  = "shop_catalog"
	ObjectEligibility  = "eligibility"
)

const (
	ActionAuditLogView       = "audit_log.view"
	ActionDashboardAdminView = "dashboard.admin_view"
	ActionOutboxInspect      = "outbox.inspect"

	ActionShopCatalogEdit       = "shop_catalog.edit"
	ActionEligibilityConfigView = "eligibility.config_view"

	ActionOutboxDispatch    = "outbox.dispatch"
	ActionRollupRun         = "rollup.run"
	ActionSessionPurge      = "session.purge"
	ActionCloudMetricsPush  = "cloud_metrics.push"
	ActionVerificationSweep = "verification.sweep"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return err
	}

	if err := s.ensureGrouping(subject, roleName, policyDomain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, policyDomain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actorID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, string, *snowflake.ID, error) {
	if actor == "system" {
		return actor, "role:system", "system", nil, nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		role, err := s.roleForUser(ctx, userID)
		if err != nil {
			return actor, "", "user", &userID, err
		}
		roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
		return actor, roleName, "user", &userID, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role FROM users WHERE id = ? LIMIT 1`,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *snowflake.ID, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	var actorIDStr *string
	if actorID != nil {
		str := actorID.String()
		actorIDStr = &str
	}
	_ = s.auditSvc.AuditLog(ctx, actorID, actorType, actorIDStr, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"actor":  actorType,
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *snowflake.ID, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	var actorIDStr *string
	if actorID != nil {
		str := actorID.String()
		actorIDStr = &str
	}
	_ = s.auditSvc.AuditLog(ctx, actorID, actorType, actorIDStr, "authorization.granted", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"actor":  actorType,
	})
}

// shouldAuditGrant marks actions whose successful use belongs in the
// audit trail. Viewing other households' aggregates is one of them.
func shouldAuditGrant(action string) bool {
	switch action {
	case ActionDashboardAdminView, ActionShopCatalogEdit:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Admin permissions (operator surface)
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectDashboard, ActionDashboardAdminView},
		{"role:admin", ObjectOutbox, ActionOutboxInspect},
		{"role:admin", ObjectShopCatalog, ActionShopCatalogEdit},
		{"role:admin", ObjectEligibility, ActionEligibilityConfigView},
		{"role:admin", ObjectRollup, ActionRollupRun},

		// System permissions (scheduler jobs)
		{"role:system", ObjectOutbox, ActionOutboxDispatch},
		{"role:system", ObjectOutbox, ActionOutboxInspect},
		{"role:system", ObjectRollup, ActionRollupRun},
		{"role:system", ObjectSession, ActionSessionPurge},
		{"role:system", ObjectCloudMetrics, ActionCloudMetricsPush},
		{"role:system", ObjectVerification, ActionVerificationSweep},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
