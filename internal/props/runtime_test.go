package props

import (
	"flag"
	"io"
	"sync"
	"testing"
)

func TestRuntime_SetLookupDelete(t *testing.T) {
	r := NewRuntime(map[string]string{"policy": "DENY"})

	if v, ok, _ := r.Lookup("policy"); !ok || v != "DENY" {
		t.Fatalf("seeded Lookup = %q, %v", v, ok)
	}
	r.Set("shouldSetPolicy", "false")
	if v, ok, _ := r.Lookup("shouldSetPolicy"); !ok || v != "false" {
		t.Fatalf("Lookup after Set = %q, %v", v, ok)
	}
	if !r.Delete("policy") {
		t.Fatal("Delete(policy) = false, want true")
	}
	if r.Delete("policy") {
		t.Fatal("second Delete(policy) = true, want false")
	}
	if _, ok, _ := r.Lookup("policy"); ok {
		t.Fatal("policy still present after Delete")
	}
}

func TestRuntime_InitialMapIsCopied(t *testing.T) {
	seed := map[string]string{"policy": "DENY"}
	r := NewRuntime(seed)
	seed["policy"] = "SAMEORIGIN"
	if v, _, _ := r.Lookup("policy"); v != "DENY" {
		t.Fatalf("runtime shares caller map: policy = %q", v)
	}

	snap := r.Snapshot()
	snap["policy"] = "mutated"
	if v, _, _ := r.Lookup("policy"); v != "DENY" {
		t.Fatalf("Snapshot shares internal map: policy = %q", v)
	}
}

func TestRuntime_KeysMatchCaseInsensitively(t *testing.T) {
	seed, err := ParseAssignments([]string{"POLICY=DENY"})
	if err != nil {
		t.Fatal(err)
	}
	r := NewRuntime(seed)
	desc := NewSnapshot("descriptor")
	desc.Replace(map[string]string{"POLICY": "SAMEORIGIN"})

	for _, src := range []Source{r, desc} {
		if _, ok, _ := src.Lookup("policy"); !ok {
			t.Fatalf("%s: upper-case key not found by lower-case lookup", src.Name())
		}
	}
	if v, _ := NewLayered(r, desc).Property("policy"); v != "DENY" {
		t.Fatalf("layered policy = %q, want runtime DENY", v)
	}

	r.Set("shouldSetPolicy", "false")
	if v, ok, _ := r.Lookup("SHOULDSETPOLICY"); !ok || v != "false" {
		t.Fatalf("Lookup(SHOULDSETPOLICY) = %q, %v", v, ok)
	}
	r.Set("ShouldSetPolicy", "true")
	snap := r.Snapshot()
	if len(snap) != 2 || snap["ShouldSetPolicy"] != "true" || snap["POLICY"] != "DENY" {
		t.Fatalf("Snapshot = %v", snap)
	}
	if !r.Delete("shouldsetpolicy") {
		t.Fatal("Delete with different case = false")
	}
}

func TestRuntime_ConcurrentAccess(t *testing.T) {
	r := NewRuntime(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Set("policy", "DENY")
				r.Delete("policy")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _, _ = r.Lookup("policy")
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "simple", in: []string{"policy=DENY"}, want: map[string]string{"policy": "DENY"}},
		{name: "empty value", in: []string{"policy="}, want: map[string]string{"policy": ""}},
		{name: "value with equals", in: []string{"policy=ALLOW-FROM https://a.test/?x=1"}, want: map[string]string{"policy": "ALLOW-FROM https://a.test/?x=1"}},
		{name: "later wins", in: []string{"policy=DENY", "policy=SAMEORIGIN"}, want: map[string]string{"policy": "SAMEORIGIN"}},
		{name: "key trimmed", in: []string{" policy =DENY"}, want: map[string]string{"policy": "DENY"}},
		{name: "missing equals", in: []string{"policy"}, wantErr: true},
		{name: "empty key", in: []string{"=DENY"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestAssignments_FlagValue(t *testing.T) {
	var a Assignments
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(&a, "D", "property")

	if err := fs.Parse([]string{"-D", "policy=DENY", "-D", "shouldSetPolicy=false"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("collected %d assignments, want 2", len(a))
	}
	if a.String() != "policy=DENY,shouldSetPolicy=false" {
		t.Fatalf("String = %q", a.String())
	}

	if err := fs.Parse([]string{"-D", "nonsense"}); err == nil {
		t.Fatal("malformed -D accepted")
	}
}
