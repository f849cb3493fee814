package service

type campaignRequest interface {
	GetPaymentId() string
	GetTenantId() string
	GetAccountId() string
	GetInvoiceId() string
	GetAmount() string
	GetCurrency() string
	GetProvider() string
	GetCustomerRef() string
	GetPaymentMethodRef() string
	GetNonRetryable() bool
}

type reportFailureRequest interface {
	campaignRequest
	GetFailureKind() string
	GetReason() string
}
