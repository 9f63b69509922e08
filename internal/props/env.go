package props

import (
	"os"
	"strings"
	"unicode"
)

// Env reads properties from environment variables named
// Prefix + SNAKE_UPPER(key): shouldSetPolicy with prefix HDRGUARD_ is
// HDRGUARD_SHOULD_SET_POLICY.
type Env struct {
	Prefix string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

func (*Env) Name() string { return "env" }

func (e *Env) Lookup(key string) (string, bool, error) {
	lookup := e.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(e.VarName(key))
	return v, ok, nil
}

// VarName is the environment variable consulted for key.
func (e *Env) VarName(key string) string {
	return e.Prefix + envKey(key)
}

// envKey splits camelCase words and maps '.' and '-' to '_'.
// xContentTypeShouldSetPolicy -> X_CONTENT_TYPE_SHOULD_SET_POLICY
func envKey(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 8)
	prevLower := false
	for _, r := range key {
		switch {
		case r == '.' || r == '-' || r == '_':
			b.WriteByte('_')
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String()
}
