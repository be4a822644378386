package payload

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"example.com/backstage/services/rewards/internal/catalog"
)

// Format is the only payload format tag accepted
const Format = "rwd"

// Version is the only payload version accepted
const Version = 1

// DefaultFreshnessCeiling is the maximum age of an issued payload
const DefaultFreshnessCeiling = 24 * time.Hour

// Validation errors, checked in this order
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrPayloadExpired   = errors.New("payload expired")
	ErrUnknownItem      = errors.New("unknown item")
	ErrItemInactive     = errors.New("item inactive")
)

// Payload is the decoded redemption payload. IssuedAt and ExpiresAt are
// unix seconds.
type Payload struct {
	Format    string `json:"fmt" validate:"required,eq=rwd"`
	Version   int    `json:"v" validate:"required,eq=1"`
	ItemID    string `json:"item" validate:"required,max=128,printascii"`
	IssuedAt  *int64 `json:"iat,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt *int64 `json:"exp,omitempty" validate:"omitempty,gt=0"`
}

// Validated is a payload that passed every check
type Validated struct {
	ItemID string
	Entry  catalog.Entry
}

// Validator checks raw payloads against the item catalog
type Validator struct {
	catalog  catalog.Lookup
	ceiling  time.Duration
	validate *validator.Validate
}

// NewValidator creates a payload validator. A non-positive ceiling selects
// DefaultFreshnessCeiling.
func NewValidator(lookup catalog.Lookup, ceiling time.Duration) *Validator {
	if ceiling <= 0 {
		ceiling = DefaultFreshnessCeiling
	}
	return &Validator{
		catalog:  lookup,
		ceiling:  ceiling,
		validate: validator.New(),
	}
}

// Decode parses and schema-checks a raw payload without consulting the catalog
func (v *Validator) Decode(raw []byte) (*Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ErrMalformedPayload
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	if err := v.validate.Struct(&p); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return &p, nil
}

// Validate runs the schema, freshness, catalog and active checks in order.
// Freshness is decided before the item is looked up.
func (v *Validator) Validate(raw []byte, now time.Time) (*Validated, error) {
	p, err := v.Decode(raw)
	if err != nil {
		return nil, err
	}

	if p.IssuedAt != nil {
		// Clock skew is tolerated up to the ceiling in either direction
		age := now.Sub(time.Unix(*p.IssuedAt, 0))
		if age > v.ceiling || -age > v.ceiling {
			return nil, ErrPayloadExpired
		}
	}
	if p.ExpiresAt != nil {
		if !time.Unix(*p.ExpiresAt, 0).After(now) {
			return nil, ErrPayloadExpired
		}
	}

	entry, err := v.catalog.Get(p.ItemID)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownItem) {
			return nil, ErrUnknownItem
		}
		return nil, errors.Wrap(err, "catalog lookup failed")
	}
	if !entry.IsActive() {
		return nil, ErrItemInactive
	}

	return &Validated{ItemID: p.ItemID, Entry: entry}, nil
}
