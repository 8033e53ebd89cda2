package importing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/money"
	"github.com/loyalty-reconciliation/internal/domain/shared"
)

// CanonicalRecord is one provider record already reshaped into canonical keys
type CanonicalRecord = map[string]any

var (
	ErrMissingDate     = errors.New("record has no date")
	ErrInvalidDate     = errors.New("record date is not parseable")
	ErrInvalidCurrency = errors.New("record currency is not an ISO 4217 code")
)

// Decoded is the typed view of a canonical record
type Decoded struct {
	Date          time.Time
	HasTime       bool
	SpendAmount   int64 // Minor units scaled by Multiplier
	Multiplier    int
	Currency      string
	AuthCode      string
	FirstSix      string
	LastFour      string
	CardToken     string
	SettlementKey string
	Extra         map[string]any
}

// ImportAdapter turns canonical records into the values the deduplicator needs.
// TransactionID must be stable across redelivery of the same logical event.
type ImportAdapter interface {
	TransactionID(rec CanonicalRecord) (string, error)
	MerchantIdentifiers(rec CanonicalRecord) []merchant.Lookup
	Decode(rec CanonicalRecord) (*Decoded, error)
}

var dateLayouts = []struct {
	layout  string
	hasTime bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02", false},
}

// CanonicalAdapter reads the keys every provider adapter emits
type CanonicalAdapter struct {
	DefaultCurrency string
	Location        *time.Location // For timestamps without an offset; UTC when nil
}

var _ ImportAdapter = CanonicalAdapter{}

// TransactionID uses the record's transaction_id, or a SHA-256 over the record's
// JSON encoding (keys sorted) when the feed has no natural ID
func (a CanonicalAdapter) TransactionID(rec CanonicalRecord) (string, error) {
	if id := stringField(rec, "transaction_id"); id != "" {
		return id, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to hash record: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (a CanonicalAdapter) MerchantIdentifiers(rec CanonicalRecord) []merchant.Lookup {
	var lookups []merchant.Lookup
	for _, f := range []struct {
		key string
		typ shared.IdentifierType
	}{
		{"mid", shared.IdentifierTypePrimary},
		{"secondary_mid", shared.IdentifierTypeSecondary},
		{"psimi", shared.IdentifierTypePSIMI},
	} {
		if v := stringField(rec, f.key); v != "" {
			lookups = append(lookups, merchant.Lookup{Value: v, Type: f.typ})
		}
	}
	return lookups
}

func (a CanonicalAdapter) Decode(rec CanonicalRecord) (*Decoded, error) {
	date, hasTime, err := a.parseDate(rec["date"])
	if err != nil {
		return nil, err
	}
	if v, ok := rec["has_time"].(bool); ok {
		hasTime = v
	}
	if hasTime {
		date = date.UTC()
	} else {
		date = shared.CalendarDate(date)
	}

	amount, err := money.ParseAmount(rec["amount"])
	if err != nil {
		return nil, err
	}
	multiplier, err := money.ParseMultiplier(rec["spend_multiplier"])
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(stringField(rec, "currency"))
	if currency == "" {
		currency = a.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}

	d := &Decoded{
		Date:          date,
		HasTime:       hasTime,
		SpendAmount:   money.Scale(amount, multiplier),
		Multiplier:    multiplier,
		Currency:      currency,
		AuthCode:      stringField(rec, "auth_code"),
		FirstSix:      stringField(rec, "first_six"),
		LastFour:      stringField(rec, "last_four"),
		CardToken:     stringField(rec, "card_token"),
		SettlementKey: stringField(rec, "settlement_key"),
	}
	if extra, ok := rec["extra"].(map[string]any); ok {
		d.Extra = extra
	}
	return d, nil
}

// parseDate returns the time in the zone it was written in. A bare date is read in UTC
// so the calendar day survives whatever Location the feed uses.
func (a CanonicalAdapter) parseDate(v any) (time.Time, bool, error) {
	raw, _ := v.(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, ErrMissingDate
	}

	loc := a.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, l := range dateLayouts {
		in := loc
		if !l.hasTime {
			in = time.UTC
		}
		if t, err := time.ParseInLocation(l.layout, raw, in); err == nil {
			return t, l.hasTime, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// stringField reads a string or numeric field as a trimmed string
func stringField(rec CanonicalRecord, key string) string {
	switch v := rec[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
