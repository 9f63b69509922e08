package props

import (
	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// Source is one layer of configuration. found=false means the layer has no
// opinion and the next layer is consulted.
type Source interface {
	Name() string
	Lookup(key string) (value string, found bool, err error)
}

// Layered resolves keys against an ordered list of sources, highest
// precedence first. It is safe for concurrent use if its sources are.
type Layered struct {
	sources []Source
}

func NewLayered(sources ...Source) *Layered {
	l := &Layered{sources: make([]Source, 0, len(sources))}
	for _, s := range sources {
		if s != nil {
			l.sources = append(l.sources, s)
		}
	}
	return l
}

// Property returns the first value found for key, or "" if no layer has it.
// A source error stops the lookup; lower layers are not consulted.
func (l *Layered) Property(key string) (string, error) {
	v, _, err := l.Explain(key)
	return v, err
}

// Explain is Property plus the name of the layer that answered ("" if none).
func (l *Layered) Explain(key string) (value, source string, err error) {
	for _, s := range l.sources {
		v, ok, err := s.Lookup(key)
		if err != nil {
			return "", s.Name(), xerrors.Wrapf(err, "%s source", s.Name())
		}
		if ok {
			return v, s.Name(), nil
		}
	}
	return "", "", nil
}

// Sources returns the layer names in precedence order.
func (l *Layered) Sources() []string {
	names := make([]string, len(l.sources))
	for i, s := range l.sources {
		names[i] = s.Name()
	}
	return names
}
