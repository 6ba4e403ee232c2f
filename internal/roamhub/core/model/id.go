package model

import (
	"fmt"
	"strings"
)

// The roaming id scheme is "{COUNTRY}*{PARTY}" for an operator and
// "{COUNTRY}*{PARTY}*{SUFFIX}" for an EVSE. Providers use the same shape as
// operators. Separators '*' and '-' are interchangeable on the wire and
// letters are case-insensitive, so equality must hold across equivalent
// spellings. We canonicalize once at parse time (upper-case, '*' separator)
// and compare only the canonical string afterwards.

type operatorKind struct{}
type evseKind struct{}
type providerKind struct{}

// ID is an opaque, comparable identifier. The kind parameter is a pure
// compile-time tag: an OperatorID can never be passed where an EvseID is
// expected, without each kind reimplementing equality or ordering.
type ID[K any] struct {
	s string
}

// OperatorID identifies a charge-point operator scope.
type OperatorID = ID[operatorKind]

// EvseID identifies a single chargeable outlet within an operator scope.
type EvseID = ID[evseKind]

// ProviderID identifies an e-mobility provider originating a reservation.
type ProviderID = ID[providerKind]

// String returns the canonical formatted form.
func (id ID[K]) String() string { return id.s }

// IsZero reports whether the identifier is the unparsed zero value.
func (id ID[K]) IsZero() bool { return id.s == "" }

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (id ID[K]) MarshalText() ([]byte, error) { return []byte(id.s), nil }

// UnmarshalText implements encoding.TextUnmarshaler, accepting any
// equivalent spelling and storing the canonical form.
func (id *ID[K]) UnmarshalText(text []byte) error {
	want := 2
	if _, ok := any(id).(*EvseID); ok {
		want = 3
	}
	parts, err := splitID(string(text), want)
	if err != nil {
		return err
	}
	id.s = strings.Join(parts, "*")
	return nil
}

// Compare orders two identifiers of the same kind by canonical string.
func Compare[K any](a, b ID[K]) int { return strings.Compare(a.s, b.s) }

// ParseOperatorID parses an operator identifier ("DE*ABC").
func ParseOperatorID(raw string) (OperatorID, error) {
	parts, err := splitID(raw, 2)
	if err != nil {
		return OperatorID{}, err
	}
	return OperatorID{s: strings.Join(parts, "*")}, nil
}

// ParseEvseID parses a full EVSE identifier ("DE*ABC*E1234").
func ParseEvseID(raw string) (EvseID, error) {
	parts, err := splitID(raw, 3)
	if err != nil {
		return EvseID{}, err
	}
	return EvseID{s: strings.Join(parts, "*")}, nil
}

// ParseProviderID parses a provider identifier ("DE*XYZ").
func ParseProviderID(raw string) (ProviderID, error) {
	parts, err := splitID(raw, 2)
	if err != nil {
		return ProviderID{}, err
	}
	return ProviderID{s: strings.Join(parts, "*")}, nil
}

// Operator returns the "{COUNTRY}*{PARTY}" scope prefix of the identifier.
// For an operator or provider id this is the id itself; for an EVSE id it is
// the operator the outlet belongs to.
func (id ID[K]) Operator() OperatorID {
	if id.s == "" {
		return OperatorID{}
	}
	parts := strings.Split(id.s, "*")
	return OperatorID{s: parts[0] + "*" + parts[1]}
}

func splitID(raw string, want int) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedIdentifier)
	}
	norm := strings.ToUpper(strings.ReplaceAll(raw, "-", "*"))
	parts := strings.Split(norm, "*")
	if len(parts) != want {
		return nil, fmt.Errorf("%w: %q has %d segments, want %d", ErrMalformedIdentifier, raw, len(parts), want)
	}
	if len(parts[0]) != 2 || !alnum(parts[0]) {
		return nil, fmt.Errorf("%w: %q has invalid country code", ErrMalformedIdentifier, raw)
	}
	for _, p := range parts[1:] {
		if p == "" || !alnum(p) {
			return nil, fmt.Errorf("%w: %q has an empty or non-alphanumeric segment", ErrMalformedIdentifier, raw)
		}
	}
	return parts, nil
}

func alnum(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
