package device

import (
	"fmt"
	"strconv"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// UUID is a GATT attribute type in canonical form: lowercase hex without dashes, shortened
// to 4 (or 8) digits when it lies on the Bluetooth SIG base UUID. Canonical values compare
// with ==.
type UUID string

const sigBaseSuffix = "00001000800000805f9b34fb"

// Well-known attribute types used by the core and backends.
var (
	GenericAttributeServiceUUID = UUID16(0x1801)
	ServiceChangedUUID          = UUID16(0x2a05)
	CCCDUUID                    = UUID16(0x2902)
)

// UUID16 returns the canonical form of a 16-bit SIG-assigned UUID.
func UUID16(v uint16) UUID {
	return UUID(fmt.Sprintf("%04x", v))
}

// ParseUUID accepts 16-, 32- and 128-bit forms, with or without dashes, braces or a 0x
// prefix, and returns the canonical form.
func ParseUUID(s string) (UUID, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.Trim(raw, "{}")
	raw = strings.ReplaceAll(raw, "-", "")

	switch len(raw) {
	case 4:
		if _, err := strconv.ParseUint(raw, 16, 16); err != nil {
			return "", fmt.Errorf("invalid 16-bit UUID %q", s)
		}
		return UUID(raw), nil
	case 8:
		if _, err := strconv.ParseUint(raw, 16, 32); err != nil {
			return "", fmt.Errorf("invalid 32-bit UUID %q", s)
		}
		if strings.HasPrefix(raw, "0000") {
			return UUID(raw[4:]), nil
		}
		return UUID(raw), nil
	case 32:
		dashed := raw[0:8] + "-" + raw[8:12] + "-" + raw[12:16] + "-" + raw[16:20] + "-" + raw[20:32]
		if _, err := uuid.FromString(dashed); err != nil {
			return "", fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		if strings.HasSuffix(raw, sigBaseSuffix) {
			if strings.HasPrefix(raw, "0000") {
				return UUID(raw[4:8]), nil
			}
			return UUID(raw[:8]), nil
		}
		return UUID(raw), nil
	default:
		return "", fmt.Errorf("invalid UUID %q: unexpected length %d", s, len(raw))
	}
}

// MustParseUUID is ParseUUID for constants; it panics on malformed input.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUIDs parses every element, reporting the first failure with its index.
func ParseUUIDs(ss ...string) ([]UUID, error) {
	out := make([]UUID, 0, len(ss))
	for i, s := range ss {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		u, err := ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("UUID at index %d: %w", i, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (u UUID) String() string { return string(u) }

// IsShort reports whether u is a 16- or 32-bit SIG alias.
func (u UUID) IsShort() bool { return len(u) == 4 || len(u) == 8 }

// Full returns the dashed 128-bit form, as BlueZ and most native stacks print it.
func (u UUID) Full() string {
	var raw string
	switch len(u) {
	case 4:
		raw = "0000" + string(u) + sigBaseSuffix
	case 8:
		raw = string(u) + sigBaseSuffix
	default:
		raw = string(u)
	}
	if len(raw) != 32 {
		return string(u)
	}
	return raw[0:8] + "-" + raw[8:12] + "-" + raw[12:16] + "-" + raw[16:20] + "-" + raw[20:32]
}

// Short returns a display prefix of at most eight characters.
func (u UUID) Short() string {
	if len(u) > 8 {
		return string(u[:8])
	}
	return string(u)
}

// ContainsAny reports whether have and want share at least one UUID.
func ContainsAny(have, want []UUID) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
