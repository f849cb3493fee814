package types

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

type TenantConfig struct {
	TenantId  string            `json:"tenant_id"`
	Values    map[string]string `json:"values"`
	Revision  int64             `json:"revision"`
	UpdatedAt string            `json:"updated_at"`
}

type TenantConfigResponse struct {
	Config  *TenantConfig `json:"config"`
	Warning string        `json:"warning,omitempty"`
}

type ConfigRevision struct {
	Revision  int64             `json:"revision"`
	TenantId  string            `json:"tenant_id"`
	Action    string            `json:"action"`
	OldValues map[string]string `json:"old_values,omitempty"`
	NewValues map[string]string `json:"new_values,omitempty"`
	Operator  string            `json:"operator,omitempty"`
	CreatedAt string            `json:"created_at"`
}

type ConfigHistoryResponse struct {
	Revisions []*ConfigRevision `json:"revisions"`
}

type ScheduleResponse struct {
	TenantId string `json:"tenant_id"`
	Days     []int  `json:"days"`
}

type Attempt struct {
	Index   int    `json:"index"`
	Outcome string `json:"outcome"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
	At      string `json:"at"`
}

type Campaign struct {
	PaymentId        string     `json:"payment_id"`
	TenantId         string     `json:"tenant_id"`
	AccountId        string     `json:"account_id"`
	InvoiceId        string     `json:"invoice_id,omitempty"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	Provider         string     `json:"provider"`
	CustomerRef      string     `json:"customer_ref,omitempty"`
	PaymentMethodRef string     `json:"payment_method_ref,omitempty"`
	State            string     `json:"state"`
	AttemptIndex     int        `json:"attempt_index"`
	NextDueAt        string     `json:"next_due_at,omitempty"`
	LastFailureAt    string     `json:"last_failure_at,omitempty"`
	LastFailureKind  string     `json:"last_failure_kind,omitempty"`
	CancelReason     string     `json:"cancel_reason,omitempty"`
	Attempts         []*Attempt `json:"attempts"`
	CreatedAt        string     `json:"created_at"`
	UpdatedAt        string     `json:"updated_at"`
}

type CampaignEnvelopeResponse struct {
	Campaign *Campaign `json:"campaign"`
	Warning  string    `json:"warning,omitempty"`
}

type CancelAccountResponse struct {
	AccountId string `json:"account_id"`
	Cancelled int    `json:"cancelled"`
}

type Subscription struct {
	Id           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	TenantId     string   `json:"tenant_id,omitempty"`
	EventTypes   []string `json:"event_types,omitempty"`
	Pending      int      `json:"pending"`
	BackoffUntil string   `json:"backoff_until,omitempty"`
}

type SubscriptionResponse struct {
	Subscription *Subscription `json:"subscription"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
}

type Delivery struct {
	Id        string `json:"id"`
	EventId   string `json:"event_id"`
	EventType string `json:"event_type"`
	Attempt   int    `json:"attempt"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

type ListDeliveriesResponse struct {
	Deliveries []*Delivery `json:"deliveries"`
}

type Event struct {
	Id         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	TenantId   string            `json:"tenant"`
	EntityId   string            `json:"entityId"`
	AccountId  string            `json:"accountId,omitempty"`
	ObjectType string            `json:"objectType"`
	MetaData   map[string]string `json:"metaData,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

type ListEventsResponse struct {
	Events []*Event `json:"events"`
}

type ClockResponse struct {
	Now string `json:"now"`
}
