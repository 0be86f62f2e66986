package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"estate-billing/internal/auth"

	"github.com/google/uuid"
)

// Actions recorded by the billing API.
const (
	ActionChargeCalculate = "charge.calculate"
	ActionChargeInvoice   = "charge.invoice"
	ActionChargeExport    = "charge.export"
	ActionShadowrunRun    = "shadowrun.run"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	TenantID      string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Period        string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromRequest builds an entry carrying the caller identity and client details of r.
func FromRequest(r *http.Request, action, resourceType, resourceID, period string, metadata any) Entry {
	entry := Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Period:       period,
	}
	if r != nil {
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			entry.TenantID = identity.TenantID
			entry.Actor = identity.Actor()
			entry.Role = string(identity.Role)
		}
		entry.IP = ClientIP(r)
		entry.UserAgent = r.UserAgent()
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}
