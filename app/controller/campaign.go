package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/factory"
	"github.com/vibast-solutions/ms-go-payment-retries/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-retries/app/service"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

type CampaignController struct {
	orchestrator *service.RetryOrchestrator
	logger       logrus.FieldLogger
}

func NewCampaignController(orchestrator *service.RetryOrchestrator) *CampaignController {
	return &CampaignController{
		orchestrator: orchestrator,
		logger:       factory.NewModuleLogger("campaign-controller"),
	}
}

func (c *CampaignController) Start(ctx echo.Context) error {
	req, err := types.NewStartCampaignRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orchestrator.Start(ctx.Request().Context(), req)
	return c.writeCampaign(ctx, http.StatusCreated, item, err, "Start campaign failed")
}

func (c *CampaignController) ReportFailure(ctx echo.Context) error {
	req, err := types.NewReportFailureRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orchestrator.ReportFailure(ctx.Request().Context(), req)
	return c.writeCampaign(ctx, http.StatusCreated, item, err, "Report failure failed")
}

func (c *CampaignController) Get(ctx echo.Context) error {
	req, err := types.NewCampaignRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orchestrator.Get(ctx.Request().Context(), req.GetPaymentId())
	return c.writeCampaign(ctx, http.StatusOK, item, err, "Get campaign failed")
}

func (c *CampaignController) Cancel(ctx echo.Context) error {
	req, err := types.NewCampaignRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orchestrator.Cancel(ctx.Request().Context(), req.GetPaymentId(), req.GetReason())
	return c.writeCampaign(ctx, http.StatusOK, item, err, "Cancel campaign failed")
}

func (c *CampaignController) CancelAccount(ctx echo.Context) error {
	req, err := types.NewCancelAccountRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	cancelled, err := c.orchestrator.CancelAccount(ctx.Request().Context(), req.GetAccountId(), req.GetReason())
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Cancel account campaigns failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.CancelAccountResponse{AccountId: req.GetAccountId(), Cancelled: cancelled})
}

func (c *CampaignController) writeCampaign(ctx echo.Context, statusCode int, item *entity.Campaign, err error, failure string) error {
	warning, err := splitDeliveryErr(err)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrProviderUnsupported):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrCampaignNotFound):
			return writeError(ctx, http.StatusNotFound, "campaign not found")
		case errors.Is(err, service.ErrCampaignAlreadyActive), errors.Is(err, service.ErrCampaignClosed):
			return writeError(ctx, http.StatusConflict, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(failure)
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(statusCode, &types.CampaignEnvelopeResponse{
		Campaign: mapper.CampaignToView(item),
		Warning:  warning,
	})
}
