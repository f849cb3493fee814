package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/factory"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

type logicalClock interface {
	Now() time.Time
	Advance(ctx context.Context, d time.Duration) error
	AdvanceTo(ctx context.Context, t time.Time) error
}

type SystemController struct {
	clock        logicalClock
	clockControl bool
	logger       logrus.FieldLogger
}

// NewSystemController serves health and the clock. Advancing the clock is refused
// unless clockControl is set.
func NewSystemController(clock logicalClock, clockControl bool) *SystemController {
	return &SystemController{
		clock:        clock,
		clockControl: clockControl,
		logger:       factory.NewModuleLogger("system-controller"),
	}
}

func (c *SystemController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *SystemController) Clock(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.ClockResponse{Now: c.clock.Now().UTC().Format(time.RFC3339)})
}

func (c *SystemController) AdvanceClock(ctx echo.Context) error {
	if !c.clockControl {
		return writeError(ctx, http.StatusForbidden, "clock control is disabled")
	}

	req, err := types.NewAdvanceClockRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	by, to, absolute := req.Target()
	if absolute {
		err = c.clock.AdvanceTo(ctx.Request().Context(), to)
	} else {
		err = c.clock.Advance(ctx.Request().Context(), by)
	}
	if err != nil {
		// The clock has moved; hook errors are reported but not undone.
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Clock advance hooks failed")
		return writeError(ctx, http.StatusInternalServerError, "clock advanced with errors")
	}

	return ctx.JSON(http.StatusOK, &types.ClockResponse{Now: c.clock.Now().UTC().Format(time.RFC3339)})
}
