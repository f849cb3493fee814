package types

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	operatorHeader = "X-Operator"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultEventsLimit  = 100
	maxEventsLimit      = 1000
)

type UploadConfigRequest struct {
	TenantId string            `json:"tenant_id"`
	Operator string            `json:"operator"`
	Values   map[string]string `json:"values"`
}

// NewUploadConfigRequestFromContext reads a flat key/value body. YAML is accepted
// when the content type says so, JSON otherwise.
func NewUploadConfigRequestFromContext(ctx echo.Context) (*UploadConfigRequest, error) {
	raw, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	values := map[string]string{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if isYAML(ctx.Request().Header.Get(echo.HeaderContentType)) {
			err = yaml.Unmarshal(raw, &values)
		} else {
			err = json.Unmarshal(raw, &values)
		}
		if err != nil {
			return nil, err
		}
	}

	return &UploadConfigRequest{
		TenantId: strings.TrimSpace(ctx.Param("tenant")),
		Operator: operatorFromContext(ctx),
		Values:   values,
	}, nil
}

func (r *UploadConfigRequest) GetTenantId() string {
	if r == nil {
		return ""
	}
	return r.TenantId
}

func (r *UploadConfigRequest) GetOperator() string {
	if r == nil {
		return ""
	}
	return r.Operator
}

func (r *UploadConfigRequest) GetValues() map[string]string {
	if r == nil {
		return nil
	}
	return r.Values
}

func (r *UploadConfigRequest) Validate() error {
	if strings.TrimSpace(r.GetTenantId()) == "" {
		return errors.New("tenant is required")
	}
	if len(r.GetValues()) == 0 {
		return errors.New("config must contain at least one key")
	}
	return nil
}

type TenantRequest struct {
	TenantId string `json:"tenant_id"`
	Operator string `json:"operator"`
}

func NewTenantRequestFromContext(ctx echo.Context) (*TenantRequest, error) {
	return &TenantRequest{
		TenantId: strings.TrimSpace(ctx.Param("tenant")),
		Operator: operatorFromContext(ctx),
	}, nil
}

func (r *TenantRequest) GetTenantId() string {
	if r == nil {
		return ""
	}
	return r.TenantId
}

func (r *TenantRequest) GetOperator() string {
	if r == nil {
		return ""
	}
	return r.Operator
}

func (r *TenantRequest) Validate() error {
	if strings.TrimSpace(r.GetTenantId()) == "" {
		return errors.New("tenant is required")
	}
	return nil
}

type ConfigHistoryRequest struct {
	TenantId string
	Limit    int
}

func NewConfigHistoryRequestFromContext(ctx echo.Context) (*ConfigHistoryRequest, error) {
	req := &ConfigHistoryRequest{
		TenantId: strings.TrimSpace(ctx.Param("tenant")),
		Limit:    defaultHistoryLimit,
	}
	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil {
			return nil, err
		}
		req.Limit = limit
	}
	return req, nil
}

func (r *ConfigHistoryRequest) GetTenantId() string {
	if r == nil {
		return ""
	}
	return r.TenantId
}

func (r *ConfigHistoryRequest) GetLimit() int {
	if r == nil {
		return 0
	}
	return r.Limit
}

func (r *ConfigHistoryRequest) Validate() error {
	if strings.TrimSpace(r.GetTenantId()) == "" {
		return errors.New("tenant is required")
	}
	if r.GetLimit() <= 0 || r.GetLimit() > maxHistoryLimit {
		return errors.New("limit must be between 1 and 500")
	}
	return nil
}

type StartCampaignRequest struct {
	PaymentId        string `json:"payment_id"`
	TenantId         string `json:"tenant_id"`
	AccountId        string `json:"account_id"`
	InvoiceId        string `json:"invoice_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Provider         string `json:"provider"`
	CustomerRef      string `json:"customer_ref"`
	PaymentMethodRef string `json:"payment_method_ref"`
	NonRetryable     bool   `json:"non_retryable"`
}

func NewStartCampaignRequestFromContext(ctx echo.Context) (*StartCampaignRequest, error) {
	var body StartCampaignRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.normalize()
	return &body, nil
}

func (r *StartCampaignRequest) normalize() {
	r.PaymentId = strings.TrimSpace(r.PaymentId)
	r.TenantId = strings.TrimSpace(r.TenantId)
	r.AccountId = strings.TrimSpace(r.AccountId)
	r.InvoiceId = strings.TrimSpace(r.InvoiceId)
	r.Amount = strings.TrimSpace(r.Amount)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	r.CustomerRef = strings.TrimSpace(r.CustomerRef)
	r.PaymentMethodRef = strings.TrimSpace(r.PaymentMethodRef)
}

func (r *StartCampaignRequest) GetPaymentId() string {
	if r == nil {
		return ""
	}
	return r.PaymentId
}

func (r *StartCampaignRequest) GetTenantId() string {
	if r == nil {
		return ""
	}
	return r.TenantId
}

func (r *StartCampaignRequest) GetAccountId() string {
	if r == nil {
		return ""
	}
	return r.AccountId
}

func (r *StartCampaignRequest) GetInvoiceId() string {
	if r == nil {
		return ""
	}
	return r.InvoiceId
}

func (r *StartCampaignRequest) GetAmount() string {
	if r == nil {
		return ""
	}
	return r.Amount
}

func (r *StartCampaignRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *StartCampaignRequest) GetProvider() string {
	if r == nil {
		return ""
	}
	return r.Provider
}

func (r *StartCampaignRequest) GetCustomerRef() string {
	if r == nil {
		return ""
	}
	return r.CustomerRef
}

func (r *StartCampaignRequest) GetPaymentMethodRef() string {
	if r == nil {
		return ""
	}
	return r.PaymentMethodRef
}

func (r *StartCampaignRequest) GetNonRetryable() bool {
	if r == nil {
		return false
	}
	return r.NonRetryable
}

func (r *StartCampaignRequest) Validate() error {
	if r.GetPaymentId() == "" {
		return errors.New("payment_id is required")
	}
	if r.GetTenantId() == "" {
		return errors.New("tenant_id is required")
	}
	if r.GetAccountId() == "" {
		return errors.New("account_id is required")
	}
	if r.GetAmount() == "" {
		return errors.New("amount is required")
	}
	if len(r.GetCurrency()) != 3 {
		return errors.New("currency must be 3 letters")
	}
	return nil
}

type ReportFailureRequest struct {
	StartCampaignRequest

	FailureKind string `json:"failure_kind"`
	Reason      string `json:"reason"`
}

func NewReportFailureRequestFromContext(ctx echo.Context) (*ReportFailureRequest, error) {
	var body ReportFailureRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.normalize()
	body.FailureKind = strings.ToLower(strings.TrimSpace(body.FailureKind))
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *ReportFailureRequest) GetFailureKind() string {
	if r == nil {
		return ""
	}
	return r.FailureKind
}

func (r *ReportFailureRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

func (r *ReportFailureRequest) Validate() error {
	if err := r.StartCampaignRequest.Validate(); err != nil {
		return err
	}
	if kind := r.GetFailureKind(); kind != "" && kind != "declined" && kind != "plugin" {
		return errors.New("failure_kind must be declined or plugin")
	}
	return nil
}

type CampaignRequest struct {
	PaymentId string `json:"payment_id"`
	Reason    string `json:"reason"`
}

func NewCampaignRequestFromContext(ctx echo.Context) (*CampaignRequest, error) {
	var body CampaignRequest
	if ctx.Request().Method != http.MethodGet {
		if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	body.PaymentId = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *CampaignRequest) GetPaymentId() string {
	if r == nil {
		return ""
	}
	return r.PaymentId
}

func (r *CampaignRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

func (r *CampaignRequest) Validate() error {
	if r.GetPaymentId() == "" {
		return errors.New("invalid payment id")
	}
	return nil
}

type CancelAccountRequest struct {
	AccountId string `json:"-"`
	Reason    string `json:"reason"`
}

func NewCancelAccountRequestFromContext(ctx echo.Context) (*CancelAccountRequest, error) {
	var body CancelAccountRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.AccountId = strings.TrimSpace(ctx.Param("account"))
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *CancelAccountRequest) GetAccountId() string {
	if r == nil {
		return ""
	}
	return r.AccountId
}

func (r *CancelAccountRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

func (r *CancelAccountRequest) Validate() error {
	if r.GetAccountId() == "" {
		return errors.New("invalid account id")
	}
	return nil
}

type CreateSubscriptionRequest struct {
	Id         string   `json:"id"`
	Name       string   `json:"name"`
	TenantId   string   `json:"tenant_id"`
	EventTypes []string `json:"event_types"`
	Url        string   `json:"url"`
	Secret     string   `json:"secret"`
	ApiKey     string   `json:"api_key"`
}

func NewCreateSubscriptionRequestFromContext(ctx echo.Context) (*CreateSubscriptionRequest, error) {
	var body CreateSubscriptionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = strings.TrimSpace(body.Id)
	body.Name = strings.TrimSpace(body.Name)
	body.TenantId = strings.TrimSpace(body.TenantId)
	body.Url = strings.TrimSpace(body.Url)
	body.EventTypes = lo.Compact(lo.Map(body.EventTypes, func(item string, _ int) string {
		return strings.ToLower(strings.TrimSpace(item))
	}))
	return &body, nil
}

func (r *CreateSubscriptionRequest) GetId() string {
	if r == nil {
		return ""
	}
	return r.Id
}

func (r *CreateSubscriptionRequest) GetUrl() string {
	if r == nil {
		return ""
	}
	return r.Url
}

func (r *CreateSubscriptionRequest) GetEventTypes() []string {
	if r == nil {
		return nil
	}
	return r.EventTypes
}

func (r *CreateSubscriptionRequest) Validate() error {
	url := r.GetUrl()
	if url == "" {
		return errors.New("url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errors.New("url must be http or https")
	}
	return nil
}

type SubscriptionRequest struct {
	Id string
}

func NewSubscriptionRequestFromContext(ctx echo.Context) (*SubscriptionRequest, error) {
	return &SubscriptionRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *SubscriptionRequest) GetId() string {
	if r == nil {
		return ""
	}
	return r.Id
}

func (r *SubscriptionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid subscription id")
	}
	return nil
}

type ListEventsRequest struct {
	Since uint64
	Limit int
}

func NewListEventsRequestFromContext(ctx echo.Context) (*ListEventsRequest, error) {
	req := &ListEventsRequest{Limit: defaultEventsLimit}
	if sinceRaw := strings.TrimSpace(ctx.QueryParam("since")); sinceRaw != "" {
		since, err := strconv.ParseUint(sinceRaw, 10, 64)
		if err != nil {
			return nil, err
		}
		req.Since = since
	}
	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil {
			return nil, err
		}
		req.Limit = limit
	}
	return req, nil
}

func (r *ListEventsRequest) GetSince() uint64 {
	if r == nil {
		return 0
	}
	return r.Since
}

func (r *ListEventsRequest) GetLimit() int {
	if r == nil {
		return 0
	}
	return r.Limit
}

func (r *ListEventsRequest) Validate() error {
	if r.GetLimit() <= 0 || r.GetLimit() > maxEventsLimit {
		return errors.New("limit must be between 1 and 1000")
	}
	return nil
}

// AdvanceClockRequest moves the logical clock either by a duration ("72h") and a
// number of days, or to an absolute RFC 3339 instant.
type AdvanceClockRequest struct {
	Duration string `json:"duration"`
	Days     int    `json:"days"`
	To       string `json:"to"`

	by time.Duration
	to time.Time
}

func NewAdvanceClockRequestFromContext(ctx echo.Context) (*AdvanceClockRequest, error) {
	var body AdvanceClockRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Duration = strings.TrimSpace(body.Duration)
	body.To = strings.TrimSpace(body.To)
	return &body, nil
}

func (r *AdvanceClockRequest) Validate() error {
	if r.To != "" {
		if r.Duration != "" || r.Days != 0 {
			return errors.New("to cannot be combined with duration or days")
		}
		to, err := time.Parse(time.RFC3339, r.To)
		if err != nil {
			return errors.New("to must be an RFC 3339 timestamp")
		}
		r.to = to
		return nil
	}

	if r.Days < 0 {
		return errors.New("days must be >= 0")
	}
	by := time.Duration(r.Days) * 24 * time.Hour
	if r.Duration != "" {
		d, err := time.ParseDuration(r.Duration)
		if err != nil || d < 0 {
			return errors.New("duration must be a non-negative Go duration")
		}
		by += d
	}
	if by == 0 {
		return errors.New("duration, days or to is required")
	}
	r.by = by
	return nil
}

// Target returns the advance. Absolute is true when the clock moves to an instant.
// Valid only after Validate succeeded.
func (r *AdvanceClockRequest) Target() (by time.Duration, to time.Time, absolute bool) {
	return r.by, r.to, !r.to.IsZero()
}

func operatorFromContext(ctx echo.Context) string {
	if operator := strings.TrimSpace(ctx.Request().Header.Get(operatorHeader)); operator != "" {
		return operator
	}
	return strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
}

func isYAML(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "yaml") || strings.Contains(contentType, "yml")
}
