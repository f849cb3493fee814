package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/clock"
	"github.com/vibast-solutions/ms-go-payment-retries/config"
)

func TestConfigureLoggingRejectsUnknownLevel(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	if err := configureLogging(&config.Config{Log: config.LogConfig{Level: "chatty"}}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if err := configureLogging(&config.Config{Log: config.LogConfig{Level: "warn"}}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if logrus.GetLevel() != logrus.WarnLevel {
		t.Fatalf("unexpected level: %v", logrus.GetLevel())
	}
}

func TestSweepSchedulerRequiresInterval(t *testing.T) {
	app := &application{cfg: &config.Config{}, clock: clock.NewLogical(time.Now())}
	if _, err := newSweepScheduler(context.Background(), app); err == nil {
		t.Fatal("expected error for zero sweep interval")
	}

	app.cfg.Retry.SweepInterval = time.Minute
	scheduler, err := newSweepScheduler(context.Background(), app)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(scheduler.Entries()) != 1 {
		t.Fatalf("expected one scheduled entry, got %d", len(scheduler.Entries()))
	}
}

func TestAdvanceToWallClockRunsHooks(t *testing.T) {
	app := &application{clock: clock.NewLogical(time.Now().Add(-time.Hour))}
	swept := 0
	app.clock.OnAdvance(func(context.Context, time.Time) error {
		swept++
		return nil
	})

	if err := advanceToWallClock(context.Background(), app); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected one sweep, got %d", swept)
	}
}

func TestDefaultsValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "defaults.yaml")
	if err := os.WriteFile(valid, []byte("retry_days: [1, 2, 3]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("retry_days: [3, 1]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	defaultsValidateCmd.SetOut(&out)
	if err := defaultsValidateCmd.RunE(defaultsValidateCmd, []string{valid}); err != nil {
		t.Fatalf("expected valid file, got %v", err)
	}
	if !strings.Contains(out.String(), "retry_days=1,2,3") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	if err := defaultsValidateCmd.RunE(defaultsValidateCmd, []string{invalid}); err == nil {
		t.Fatal("expected error for decreasing schedule")
	}
}
