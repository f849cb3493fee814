package service

import (
	"errors"

	"github.com/vibast-solutions/ms-go-payment-retries/app/eventbus"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidConfig         = policy.ErrInvalidConfig
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrCampaignAlreadyActive = errors.New("campaign already active")
	ErrCampaignClosed        = errors.New("campaign is closed")
	ErrExecutionFailure      = errors.New("payment execution failure")
	ErrExhaustedRetries      = errors.New("retries exhausted")
	ErrDeliveryFailure       = eventbus.ErrDeliveryFailure
	ErrProviderUnsupported   = errors.New("provider is not supported")
	ErrConfigNotFound        = errors.New("tenant config not found")
)
