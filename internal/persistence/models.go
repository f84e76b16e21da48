package persistence

// TenantStatus is the Tenant.Status domain (§3).
type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantInactive TenantStatus = "inactive"
)

type Tenant struct {
	ID               string
	Name             string
	APIKeyHash       string
	Status           TenantStatus
	InboundURL       string
	InboundToken     string
	InboundTimeoutMs int
	CreatedAtMs      int64
	UpdatedAtMs      int64
}

type PairingCode struct {
	Code             string
	Channel          string
	RouteKey         string
	Scope            string
	ExpiresAtMs      int64
	ClaimedByTenant  *string
	ClaimedAtMs      *int64
}

type PairingToken struct {
	TokenHash         string
	TenantID          string
	Channel           string
	SessionKey        *string
	CreatedAtMs       int64
	ExpiresAtMs       int64
	ConsumedAtMs      *int64
	ConsumedBindingID *string
	ConsumedRouteKey  *string
}

// BindingStatus is the Binding.Status domain (§3/§4.3 state machine).
type BindingStatus string

const (
	BindingPending  BindingStatus = "pending"
	BindingActive   BindingStatus = "active"
	BindingInactive BindingStatus = "inactive"
)

type Binding struct {
	ID          string
	TenantID    string
	Channel     string
	Scope       string
	RouteKey    string
	Status      BindingStatus
	CreatedAtMs int64
	UpdatedAtMs int64
}

type SessionRoute struct {
	TenantID           string
	Channel            string
	SessionKey         string
	BindingID          string
	ChannelContextJSON string
	UpdatedAtMs        int64
}

type IdempotencyEntry struct {
	TenantID           string `db:"tenant_id"`
	Key                string `db:"key"`
	RequestFingerprint string `db:"request_fingerprint"`
	ResponseStatus     int    `db:"response_status"`
	ResponseBody       string `db:"response_body"`
	ExpiresAtMs        int64  `db:"expires_at_ms"`
}

type WhatsAppQueueRow struct {
	ID              int64
	DedupeKey       string
	PayloadJSON     string
	NextAttemptAtMs int64
	AttemptCount    int
	LastError       *string
}

type AuditLog struct {
	ID          int64  `db:"id"`
	TenantID    string `db:"tenant_id"`
	EventType   string `db:"event_type"`
	PayloadJSON string `db:"payload_json"`
	CreatedAtMs int64  `db:"created_at_ms"`
}
