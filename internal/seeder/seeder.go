package seeder

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vnmchuo/medcost/internal/auth"
)

const (
	DemoName     = "Demo User"
	DemoEmail    = "demo@medcost.local"
	DemoPassword = "demo-password"
)

// Registrar creates user accounts.
type Registrar interface {
	Register(ctx context.Context, name, email, password string) (*auth.User, error)
}

// SeedDemoUser creates the demo account unless it already exists.
func SeedDemoUser(ctx context.Context, reg Registrar, logger *zap.Logger) {
	_, err := reg.Register(ctx, DemoName, DemoEmail, DemoPassword)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			logger.Info("[Seeder] demo user already exists, skipping", zap.String("email", DemoEmail))
			return
		}
		logger.Warn("[Seeder] failed to create demo user", zap.Error(err))
		return
	}
	logger.Info("[Seeder] demo user created",
		zap.String("email", DemoEmail),
		zap.String("password", DemoPassword),
	)
}
