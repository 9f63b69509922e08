package headerpolicy

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// Property keys.
const (
	KeyShouldSetPolicy            = "shouldSetPolicy"
	KeyPolicy                     = "policy"
	KeyContentTypeShouldSetPolicy = "xContentTypeShouldSetPolicy"
)

// Defaults applied when a key is absent or empty.
const (
	DefaultShouldSetPolicy            = true
	DefaultPolicy                     = "SAMEORIGIN"
	DefaultContentTypeShouldSetPolicy = true
)

const (
	HeaderFrameOptions       = "X-Frame-Options"
	HeaderContentTypeOptions = "X-Content-Type-Options"
	NoSniff                  = "nosniff"
)

// Keys lists every property the policy reads, in lookup order.
var Keys = []string{KeyShouldSetPolicy, KeyPolicy, KeyContentTypeShouldSetPolicy}

// Provider is the key-value configuration the policy is read from. An empty
// string means "not set". Implementations must be safe for concurrent reads.
type Provider interface {
	Property(key string) (string, error)
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc func(key string) (string, error)

func (f ProviderFunc) Property(key string) (string, error) { return f(key) }

// MapProvider is a fixed Provider, mostly for tests and static setups.
type MapProvider map[string]string

func (m MapProvider) Property(key string) (string, error) { return m[key], nil }

// ParseBool is true only for a case-insensitive "true". Empty input yields
// def, any other value (including "1", "yes" or padded text) is false.
func ParseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	return strings.EqualFold(s, "true")
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	SetFrameOptions       bool   `json:"set_frame_options"`
	FrameOptions          string `json:"frame_options,omitempty"`
	SetContentTypeOptions bool   `json:"set_content_type_options"`
}

// Apply writes the decided headers into h, replacing existing values.
func (d Decision) Apply(h http.Header) {
	if d.SetFrameOptions {
		h.Set(HeaderFrameOptions, d.FrameOptions)
	}
	if d.SetContentTypeOptions {
		h.Set(HeaderContentTypeOptions, NoSniff)
	}
}

// Resolve reads the current configuration from p. The policy value is only
// looked up when X-Frame-Options is enabled. The first lookup error aborts
// evaluation and is returned.
func Resolve(p Provider) (Decision, error) {
	var d Decision

	raw, err := p.Property(KeyShouldSetPolicy)
	if err != nil {
		return Decision{}, xerrors.Wrapf(err, "lookup %s", KeyShouldSetPolicy)
	}
	d.SetFrameOptions = ParseBool(raw, DefaultShouldSetPolicy)

	if d.SetFrameOptions {
		v, err := p.Property(KeyPolicy)
		if err != nil {
			return Decision{}, xerrors.Wrapf(err, "lookup %s", KeyPolicy)
		}
		if v == "" {
			v = DefaultPolicy
		}
		d.FrameOptions = v
	}

	raw, err = p.Property(KeyContentTypeShouldSetPolicy)
	if err != nil {
		return Decision{}, xerrors.Wrapf(err, "lookup %s", KeyContentTypeShouldSetPolicy)
	}
	d.SetContentTypeOptions = ParseBool(raw, DefaultContentTypeShouldSetPolicy)

	return d, nil
}
