package seeder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vnmchuo/medcost/internal/auth"
)

type registrarFunc func(ctx context.Context, name, email, password string) (*auth.User, error)

func (f registrarFunc) Register(ctx context.Context, name, email, password string) (*auth.User, error) {
	return f(ctx, name, email, password)
}

func TestSeedDemoUser(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{"created", nil, zapcore.InfoLevel},
		{"exists", auth.ErrUserExists, zapcore.InfoLevel},
		{"store down", errors.New("connection refused"), zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			var gotEmail string
			reg := registrarFunc(func(ctx context.Context, name, email, password string) (*auth.User, error) {
				gotEmail = email
				if tt.err != nil {
					return nil, tt.err
				}
				return &auth.User{Email: email, Name: name}, nil
			})

			SeedDemoUser(context.Background(), reg, zap.New(core))

			assert.Equal(t, DemoEmail, gotEmail)
			if assert.Equal(t, 1, logs.Len()) {
				assert.Equal(t, tt.level, logs.All()[0].Level)
			}
		})
	}
}
