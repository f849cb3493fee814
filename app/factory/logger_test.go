package factory

import (
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestNewModuleLogger(t *testing.T) {
	logger := NewModuleLogger("retries-controller")
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestLoggerWithContextAddsRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/campaigns/pay-1", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetPath("/campaigns/:id")

	base, hook := test.NewNullLogger()
	LoggerWithContext(base.WithField("module", "retries-controller"), ctx).Info("hello")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Data["request_id"] != "req-123" {
		t.Fatalf("expected request_id req-123, got %v", entry.Data["request_id"])
	}
	if entry.Data["route"] != "/campaigns/:id" {
		t.Fatalf("expected route field, got %v", entry.Data["route"])
	}
	if entry.Data["module"] != "retries-controller" {
		t.Fatalf("expected module field, got %v", entry.Data["module"])
	}
}

func TestLoggerWithContextWithoutRequest(t *testing.T) {
	logger := LoggerWithContext(nil, nil)
	if logger != logrus.StandardLogger() {
		t.Fatal("expected standard logger fallback")
	}
}
