package controller

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-payment-retries/app/service"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

const deliveryWarning = "state was recorded but event delivery failed for at least one subscriber"

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

// splitDeliveryErr separates a delivery failure, which does not undo the state change,
// from a real failure of the operation.
func splitDeliveryErr(err error) (warning string, failure error) {
	if err == nil {
		return "", nil
	}
	if errors.Is(err, service.ErrDeliveryFailure) {
		return deliveryWarning, nil
	}
	return "", err
}
