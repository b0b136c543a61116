package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/area"
	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	"github.com/babcialabs/babcia/internal/audit"
	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	"github.com/babcialabs/babcia/internal/auth"
	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	"github.com/babcialabs/babcia/internal/auth/session"
	"github.com/babcialabs/babcia/internal/authorization"
	"github.com/babcialabs/babcia/internal/bowl"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/cache"
	"github.com/babcialabs/babcia/internal/cloudmetrics"
	"github.com/babcialabs/babcia/internal/config"
	"github.com/babcialabs/babcia/internal/dashboard"
	dashboarddomain "github.com/babcialabs/babcia/internal/dashboard/domain"
	"github.com/babcialabs/babcia/internal/dashboard/rollup"
	"github.com/babcialabs/babcia/internal/eligibility"
	"github.com/babcialabs/babcia/internal/events"
	"github.com/babcialabs/babcia/internal/ledger"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	"github.com/babcialabs/babcia/internal/observability"
	obsmiddleware "github.com/babcialabs/babcia/internal/observability/logger"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	obstracing "github.com/babcialabs/babcia/internal/observability/tracing"
	"github.com/babcialabs/babcia/internal/persona"
	personadomain "github.com/babcialabs/babcia/internal/persona/domain"
	"github.com/babcialabs/babcia/internal/providers"
	"github.com/babcialabs/babcia/internal/providers/pdf"
	"github.com/babcialabs/babcia/internal/ratelimit"
	"github.com/babcialabs/babcia/internal/scheduler"
	"github.com/babcialabs/babcia/internal/shop"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
	"github.com/babcialabs/babcia/internal/streak"
	streakdomain "github.com/babcialabs/babcia/internal/streak/domain"
	"github.com/babcialabs/babcia/internal/vision"
)

var Module = fx.Module("http.server",
	config.Module,
	cloudmetrics.Module,
	fx.Provide(registerGin),
	fx.Provide(cache.NewCatalogCache),
	authorization.Module,
	audit.Module,
	events.Module,
	auth.Module,
	area.Module,
	bowl.Module,
	dashboard.Module,
	eligibility.Module,
	ledger.Module,
	persona.Module,
	providers.Module,
	ratelimit.Module,
	shop.Module,
	streak.Module,
	vision.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	sessions       *session.Manager
	authsvc        authdomain.Service
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	areaSvc        areadomain.Service
	bowlSvc        bowldomain.Service
	ledgerSvc      ledgerdomain.Service
	shopSvc        shopdomain.Service
	streakTracker  streakdomain.Tracker
	personaRepo    personadomain.Repository
	dashboardSvc   dashboarddomain.Service
	rollupSvc      *rollup.Service
	pdfProvider    pdf.Provider
	catalogCache   cache.CatalogCache
	eligibilityCfg *config.EligibilityConfigHolder
	modelLimiter   *ratelimit.ModelCallLimiter

	scheduler *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	GenID          *snowflake.Node
	Sessions       *session.Manager
	Authsvc        authdomain.Service
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	AreaSvc        areadomain.Service
	BowlSvc        bowldomain.Service
	LedgerSvc      ledgerdomain.Service
	ShopSvc        shopdomain.Service
	StreakTracker  streakdomain.Tracker
	PersonaRepo    personadomain.Repository
	DashboardSvc   dashboarddomain.Service
	RollupSvc      *rollup.Service
	PDFProvider    pdf.Provider
	CatalogCache   cache.CatalogCache
	EligibilityCfg *config.EligibilityConfigHolder
	ModelLimiter   *ratelimit.ModelCallLimiter `optional:"true"`

	Scheduler *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		sessions:       p.Sessions,
		authsvc:        p.Authsvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		areaSvc:        p.AreaSvc,
		bowlSvc:        p.BowlSvc,
		ledgerSvc:      p.LedgerSvc,
		shopSvc:        p.ShopSvc,
		streakTracker:  p.StreakTracker,
		personaRepo:    p.PersonaRepo,
		dashboardSvc:   p.DashboardSvc,
		rollupSvc:      p.RollupSvc,
		pdfProvider:    p.PDFProvider,
		catalogCache:   p.CatalogCache,
		eligibilityCfg: p.EligibilityCfg,
		modelLimiter:   p.ModelLimiter,
		scheduler:      p.Scheduler,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.SignUp)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.POST("/change-password", s.AuthRequired(), s.ChangePassword)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Areas --------
	api.GET("/areas", s.ListAreas)
	api.POST("/areas", s.CreateArea)
	api.GET("/areas/:id", s.GetAreaByID)
	api.PATCH("/areas/:id", s.UpdateArea)
	api.DELETE("/areas/:id", s.DeleteArea)

	// -------- Bowls --------
	api.GET("/bowls", s.ListBowls)
	api.POST("/bowls", s.BowlGenerationRateLimit(), s.CreateBowl)
	api.GET("/bowls/:id", s.GetBowlByID)
	api.POST("/bowls/:id/tasks/:taskId/tick", s.TickTask)
	api.POST("/bowls/:id/finish", s.FinishBowl)
	api.POST("/bowls/:id/verification", s.RequestVerification)
	api.POST("/bowls/:id/verification/photos", s.VerificationSubmitRateLimit(), s.SubmitVerification)
	api.DELETE("/bowls/:id/verification", s.AbandonVerification)

	// -------- Ledger --------
	api.GET("/points/balance", s.GetBalance)
	api.GET("/points/summary", s.GetLedgerSummary)
	api.GET("/points/entries", s.ListLedgerEntries)

	// -------- Shop --------
	api.GET("/shop/filters", s.ListShopFilters)
	api.POST("/shop/filters/:slug/purchase", s.PurchaseShopFilter)
	api.GET("/shop/unlocks", s.ListShopUnlocks)

	// -------- Personas --------
	api.GET("/personas", s.ListPersonas)

	// -------- Streak / Dashboard --------
	api.GET("/streak", s.GetStreak)
	api.GET("/dashboard/summary", s.GetDashboardSummary)
	api.GET("/dashboard/history", s.GetDashboardHistory)
	api.GET("/dashboard/activity", s.GetDashboardActivity)
	api.GET("/dashboard/areas", s.GetDashboardAreaBreakdown)
	api.GET("/dashboard/report.pdf", s.DownloadProgressReport)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.GET("/overview", s.authorizeAction(authorization.ObjectDashboard, authorization.ActionDashboardAdminView), s.GetAdminOverview)
	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	admin.GET("/eligibility-config", s.authorizeAction(authorization.ObjectEligibility, authorization.ActionEligibilityConfigView), s.GetEligibilityConfig)
	admin.PATCH("/shop/filters/:slug", s.authorizeAction(authorization.ObjectShopCatalog, authorization.ActionShopCatalogEdit), s.RepriceShopFilter)
	admin.POST("/internal/rebuild-stats", s.authorizeAction(authorization.ObjectRollup, authorization.ActionRollupRun), s.EnqueueStatsRebuild)
}
