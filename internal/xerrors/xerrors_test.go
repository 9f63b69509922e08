package xerrors

import (
	"errors"
	"io/fs"
	"runtime"
	"strings"
	"testing"
)

var errLookup = errors.New("lookup failed")

type stackTracer interface{ StackPCs() []uintptr }
type pcTracer interface{ PC() uintptr }

func frameNames(pcs []uintptr) []string {
	var names []string
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		names = append(names, fr.Function)
		if !more {
			return names
		}
	}
}

func hasFrame(pcs []uintptr, substr string) bool {
	for _, n := range frameNames(pcs) {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func TestNew(t *testing.T) {
	err := New("descriptor missing")
	if err.Error() != "descriptor missing" {
		t.Fatalf("Error() = %q", err.Error())
	}
	var st stackTracer
	if !errors.As(err, &st) {
		t.Fatal("New should carry a stack")
	}
	if !hasFrame(st.StackPCs(), "TestNew") {
		t.Fatalf("stack does not start at the caller: %v", frameNames(st.StackPCs()))
	}
	if hasFrame(st.StackPCs()[:1], "xerrors.New") {
		t.Fatal("stack should skip New itself")
	}
}

func TestNewf(t *testing.T) {
	err := Newf("bad key %q at line %d", "policy", 3)
	if err.Error() != `bad key "policy" at line 3` {
		t.Fatalf("Error() = %q", err.Error())
	}
	var st stackTracer
	if !errors.As(err, &st) || len(st.StackPCs()) == 0 {
		t.Fatal("Newf should carry a stack")
	}
}

func TestNilPassthrough(t *testing.T) {
	if WithStack(nil) != nil {
		t.Error("WithStack(nil) != nil")
	}
	if EnsureTrace(nil) != nil {
		t.Error("EnsureTrace(nil) != nil")
	}
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) != nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}
}

func TestWithStack(t *testing.T) {
	err := WithStack(errLookup)
	if err.Error() != errLookup.Error() {
		t.Fatalf("message changed: %q", err.Error())
	}
	if !errors.Is(err, errLookup) || errors.Unwrap(err) != errLookup {
		t.Fatal("WithStack must unwrap to the original error")
	}
	var st stackTracer
	if !errors.As(err, &st) || !hasFrame(st.StackPCs(), "TestWithStack") {
		t.Fatal("WithStack should record the caller's stack")
	}
}

func TestWrap(t *testing.T) {
	err := Wrap(errLookup, "ssm source")
	if err.Error() != "ssm source: lookup failed" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errLookup) {
		t.Fatal("errors.Is through Wrap")
	}
	var pt pcTracer
	if !errors.As(err, &pt) || pt.PC() == 0 {
		t.Fatal("Wrap should record the caller pc")
	}
	var st stackTracer
	if errors.As(err, &st) {
		t.Fatal("Wrap alone must not capture a full stack")
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(fs.ErrNotExist, "read descriptor %s", "/etc/hg.yaml")
	if err.Error() != "read descriptor /etc/hg.yaml: file does not exist" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("errors.Is through Wrapf")
	}
}

func TestEnsureTrace(t *testing.T) {
	plain := EnsureTrace(errLookup)
	var st stackTracer
	if !errors.As(plain, &st) {
		t.Fatal("EnsureTrace should add a stack to a plain error")
	}

	withStack := New("already traced")
	if EnsureTrace(withStack) != withStack {
		t.Fatal("EnsureTrace should not re-wrap an error with a stack")
	}

	// a stack deeper in the chain counts too
	wrapped := Wrap(withStack, "outer")
	if EnsureTrace(wrapped) != wrapped {
		t.Fatal("EnsureTrace should see a stack below a Wrap")
	}

	// a Wrap only has a pc, so it still gets a stack
	pcOnly := Wrap(errLookup, "outer")
	got := EnsureTrace(pcOnly)
	if got == pcOnly || !errors.As(got, &st) || !errors.Is(got, errLookup) {
		t.Fatal("EnsureTrace should stack a pc-only chain and keep it unwrappable")
	}
}

func TestChainedWrap(t *testing.T) {
	base := New("throttled")
	mid := Wrap(base, "get parameters")
	top := Wrapf(mid, "%s source", "ssm")

	if top.Error() != "ssm source: get parameters: throttled" {
		t.Fatalf("Error() = %q", top.Error())
	}
	if !errors.Is(top, base) {
		t.Fatal("errors.Is should reach the root")
	}

	var pcs []uintptr
	for e := top; e != nil; e = errors.Unwrap(e) {
		if p, ok := e.(pcTracer); ok {
			pcs = append(pcs, p.PC())
		}
	}
	if len(pcs) != 2 {
		t.Fatalf("expected a pc per Wrap, got %d", len(pcs))
	}
}

func TestMarkerInterface(t *testing.T) {
	type marker interface{ IsXerrorsWrapper() }
	for _, err := range []error{New("a"), WithStack(errLookup), Wrap(errLookup, "b")} {
		if _, ok := err.(marker); !ok {
			t.Errorf("%T should implement IsXerrorsWrapper", err)
		}
	}
	if _, ok := errLookup.(marker); ok {
		t.Error("plain errors must not look like xerrors wrappers")
	}
}
