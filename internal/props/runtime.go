package props

import (
	"strings"
	"sync"

	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// Runtime holds process-level properties. It is seeded from -D flags and
// can be changed while serving through the admin API. Keys match
// case-insensitively like Snapshot; Snapshot reports the last spelling set.
type Runtime struct {
	mu    sync.RWMutex
	props map[string]runtimeProp
}

type runtimeProp struct {
	key, value string
}

func NewRuntime(initial map[string]string) *Runtime {
	r := &Runtime{props: make(map[string]runtimeProp, len(initial))}
	for k, v := range initial {
		r.props[strings.ToLower(k)] = runtimeProp{key: k, value: v}
	}
	return r
}

func (*Runtime) Name() string { return "runtime" }

func (r *Runtime) Lookup(key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.props[strings.ToLower(key)]
	return p.value, ok, nil
}

func (r *Runtime) Set(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props[strings.ToLower(key)] = runtimeProp{key: key, value: value}
}

// Delete removes key and reports whether it was present.
func (r *Runtime) Delete(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := strings.ToLower(key)
	_, ok := r.props[k]
	delete(r.props, k)
	return ok
}

// Snapshot returns a copy of the current properties.
func (r *Runtime) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.props))
	for _, p := range r.props {
		out[p.key] = p.value
	}
	return out
}

// Assignments collects repeated key=value flags, e.g. -D policy=DENY.
type Assignments []string

func (a *Assignments) String() string { return strings.Join(*a, ",") }

func (a *Assignments) Set(s string) error {
	if _, _, err := splitAssignment(s); err != nil {
		return err
	}
	*a = append(*a, s)
	return nil
}

// ParseAssignments turns key=value strings into a map. Later keys win.
// The value may be empty or contain '='.
func ParseAssignments(in []string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for _, s := range in {
		k, v, err := splitAssignment(s)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func splitAssignment(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", "", xerrors.Newf("invalid property %q (want key=value)", s)
	}
	return k, v, nil
}
