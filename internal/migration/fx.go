package migration

import (
	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/config"
	dashboarddomain "github.com/babcialabs/babcia/internal/dashboard/domain"
	"github.com/babcialabs/babcia/internal/events"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	personadomain "github.com/babcialabs/babcia/internal/persona/domain"
	"github.com/babcialabs/babcia/internal/seed"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
	streakdomain "github.com/babcialabs/babcia/internal/streak/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := autoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.Bootstrap.SeedReferenceData {
			if err := seed.EnsureReferenceData(conn); err != nil {
				return err
			}
		}
		if cfg.Bootstrap.EnsureDevUser {
			return seed.EnsureDevUser(conn)
		}
		return nil
	}),
)

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&authdomain.User{},
		&authdomain.Session{},
		&areadomain.Area{},
		&bowldomain.Bowl{},
		&bowldomain.Task{},
		&bowldomain.VerificationAttempt{},
		&ledgerdomain.Entry{},
		&shopdomain.Filter{},
		&shopdomain.Unlock{},
		&personadomain.Persona{},
		&streakdomain.State{},
		&events.OutboxEvent{},
		&auditdomain.AuditLog{},
		&dashboarddomain.UserDayStats{},
		&dashboarddomain.AreaStats{},
		&dashboarddomain.StatsRebuildRequest{},
	)
}
