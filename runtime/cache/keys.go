package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/bentman/jarvis/runtime/canonjson"
)

type (
	// KeyPolicy builds deterministic cache keys from a prefix and a parts
	// map. The same (prefix, parts) always yield the same key regardless of
	// map iteration order, and keys never exceed MaxKeyLength.
	KeyPolicy struct {
		version      string
		maxKeyLength int
	}

	// KeyOption configures a KeyPolicy.
	KeyOption func(*KeyPolicy)
)

const (
	// DefaultKeyVersion tags every key so a policy change invalidates old
	// entries naturally.
	DefaultKeyVersion = "v1"

	// DefaultMaxKeyLength caps key size before the hashed form kicks in.
	DefaultMaxKeyLength = 240
)

// ErrInvalidKeyInput reports parts that cannot form a deterministic key,
// such as non-finite floats.
var ErrInvalidKeyInput = errors.New("cache: invalid key input")

// WithKeyVersion overrides the version tag baked into every key.
func WithKeyVersion(v string) KeyOption {
	return func(p *KeyPolicy) { p.version = v }
}

// WithMaxKeyLength overrides the key length cap.
func WithMaxKeyLength(n int) KeyOption {
	return func(p *KeyPolicy) { p.maxKeyLength = n }
}

// NewKeyPolicy constructs a KeyPolicy with the given options.
func NewKeyPolicy(opts ...KeyOption) *KeyPolicy {
	p := &KeyPolicy{version: DefaultKeyVersion, maxKeyLength: DefaultMaxKeyLength}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MakeKey builds `{prefix}:{version}:{canonical-json}` from parts. When the
// result would exceed MaxKeyLength the JSON suffix is replaced by its SHA-256
// hex and the shape becomes `{prefix}:{version}:h:{hex}`.
func (p *KeyPolicy) MakeKey(prefix string, parts map[string]any) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty prefix", ErrInvalidKeyInput)
	}
	normalized, err := normalizeKeyParts(parts)
	if err != nil {
		return "", err
	}
	encoded, err := canonjson.MarshalString(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidKeyInput, err)
	}
	key := prefix + ":" + p.version + ":" + encoded
	if len(key) <= p.maxKeyLength {
		return key, nil
	}
	sum := sha256.Sum256([]byte(encoded))
	return prefix + ":" + p.version + ":h:" + hex.EncodeToString(sum[:]), nil
}

// MakeKey builds a key with the default policy (v1, 240-char cap).
func MakeKey(prefix string, parts map[string]any) (string, error) {
	return defaultKeyPolicy.MakeKey(prefix, parts)
}

var defaultKeyPolicy = NewKeyPolicy()

// normalizeKeyParts walks the parts tree rejecting non-finite floats and
// wrapping fractional floats as `{"__float__": "<repr>"}` so their textual
// form is pinned independently of any encoder rounding.
func normalizeKeyParts(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: non-finite float", ErrInvalidKeyInput)
		}
		if t != math.Trunc(t) {
			return map[string]any{"__float__": strconv.FormatFloat(t, 'g', -1, 64)}, nil
		}
		return t, nil
	case float32:
		return normalizeKeyParts(float64(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			n, err := normalizeKeyParts(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := normalizeKeyParts(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}
