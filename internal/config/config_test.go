package config

import (
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COMMISSION_RATE_STANDARD", "")
	t.Setenv("SCHEDULE_AUTO_CONFIRM", "")
	cfg := Load()
	if cfg.StandardCommissionRate != 8 {
		t.Errorf("standard rate = %v, want 8", cfg.StandardCommissionRate)
	}
	if cfg.AutoConfirmSchedule != "@every 5m" {
		t.Errorf("auto-confirm schedule = %q", cfg.AutoConfirmSchedule)
	}
}

func TestLoadOverrides(t *testing.T) {
	id := uuid.New()
	t.Setenv("COMMISSION_RATE_STANDARD", "7.5")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("SUPPORT_USER_IDS", " "+id.String()+", not-a-uuid,")
	cfg := Load()
	if cfg.StandardCommissionRate != 7.5 || cfg.WorkerConcurrency != 3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.SupportUserIDs) != 1 || !cfg.IsSupport(id) || cfg.IsSupport(uuid.New()) {
		t.Errorf("support ids = %v", cfg.SupportUserIDs)
	}
}

func TestValidateClampsRanges(t *testing.T) {
	cfg := &Config{StandardCommissionRate: 150, WorkerConcurrency: 0, DBMaxConns: 20}
	cfg.Validate(zap.NewNop())
	if cfg.StandardCommissionRate != 8 || cfg.WorkerConcurrency != 1 {
		t.Errorf("validate = rate %v concurrency %d", cfg.StandardCommissionRate, cfg.WorkerConcurrency)
	}
}
