package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/factory"
	"github.com/vibast-solutions/ms-go-payment-retries/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-retries/app/service"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

type ConfigController struct {
	resolver *service.ConfigResolver
	logger   logrus.FieldLogger
}

func NewConfigController(resolver *service.ConfigResolver) *ConfigController {
	return &ConfigController{
		resolver: resolver,
		logger:   factory.NewModuleLogger("config-controller"),
	}
}

func (c *ConfigController) Upload(ctx echo.Context) error {
	req, err := types.NewUploadConfigRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.resolver.Upload(ctx.Request().Context(), req.GetTenantId(), req.GetValues(), req.GetOperator())
	warning, err := splitDeliveryErr(err)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidConfig), errors.Is(err, service.ErrInvalidRequest):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Upload tenant config failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}
	if warning != "" {
		factory.LoggerWithContext(c.logger, ctx).Warn("Tenant config stored with delivery failure")
	}

	return ctx.JSON(http.StatusOK, &types.TenantConfigResponse{
		Config:  mapper.TenantConfigToView(item),
		Warning: warning,
	})
}

func (c *ConfigController) Get(ctx echo.Context) error {
	req, err := types.NewTenantRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.resolver.Get(ctx.Request().Context(), req.GetTenantId())
	if err != nil {
		if errors.Is(err, service.ErrConfigNotFound) {
			return writeError(ctx, http.StatusNotFound, "tenant config not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get tenant config failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.TenantConfigResponse{Config: mapper.TenantConfigToView(item)})
}

func (c *ConfigController) Delete(ctx echo.Context) error {
	req, err := types.NewTenantRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	deleted, err := c.resolver.Delete(ctx.Request().Context(), req.GetTenantId(), req.GetOperator())
	warning, err := splitDeliveryErr(err)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Delete tenant config failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
	if !deleted {
		return writeError(ctx, http.StatusNotFound, "tenant config not found")
	}
	if warning != "" {
		factory.LoggerWithContext(c.logger, ctx).Warn("Tenant config deleted with delivery failure")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Tenant config deleted", Warning: warning})
}

func (c *ConfigController) History(ctx echo.Context) error {
	req, err := types.NewConfigHistoryRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.resolver.History(ctx.Request().Context(), req.GetTenantId(), req.GetLimit())
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List tenant config history failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ConfigHistoryResponse{Revisions: mapper.ConfigRevisionsToView(items)})
}

// Schedule returns the effective day schedule, falling back to the system default
// when the tenant has no override.
func (c *ConfigController) Schedule(ctx echo.Context) error {
	req, err := types.NewTenantRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	days := c.resolver.ResolveSchedule(ctx.Request().Context(), req.GetTenantId())
	return ctx.JSON(http.StatusOK, &types.ScheduleResponse{
		TenantId: req.GetTenantId(),
		Days:     append([]int{}, days...),
	})
}
