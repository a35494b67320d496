package schema

import (
	"errors"
	"testing"
)

type stubCompiled struct {
	calls int
	err   error
}

func (s *stubCompiled) Validate(payload []byte, lenient bool) error {
	s.calls++
	return s.err
}

type stubCompiler struct {
	kind    Kind
	compile func(def Definition) (CompiledSchema, error)
}

func (c *stubCompiler) Kind() Kind { return c.kind }
func (c *stubCompiler) Compile(def Definition) (CompiledSchema, error) {
	return c.compile(def)
}

func testLoadAllAndValidate(t *testing.T) {
	stub := &stubCompiled{}
	reg, err := New(10)
	if err != nil {
		t.Fatalf("new: %s", err)
	}
	reg.RegisterCompiler(&stubCompiler{kind: JSONSchema, compile: func(def Definition) (CompiledSchema, error) { return stub, nil }})

	if err := reg.LoadAll([]Definition{{ID: "s1", Kind: JSONSchema}}); err != nil {
		t.Fatalf("load all: %s", err)
	}
	if !reg.Exists("s1") {
		t.Fatal("expected schema s1 to exist")
	}

	violated, err := reg.Validate("s1", []byte("payload"), ModeStrict)
	if violated || err != nil {
		t.Fatalf("expected valid, got violated=%v err=%v", violated, err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 compiled call, got %d", stub.calls)
	}

	// second call with identical payload must hit the cache, not the compiler.
	if _, err := reg.Validate("s1", []byte("payload"), ModeStrict); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected cache hit, compiled was called %d times", stub.calls)
	}
}

func testLoadAllFailsFast(t *testing.T) {
	reg, err := New(10)
	if err != nil {
		t.Fatalf("new: %s", err)
	}
	reg.RegisterCompiler(&stubCompiler{kind: JSONSchema, compile: func(def Definition) (CompiledSchema, error) {
		return nil, errors.New("boom")
	}})

	if err := reg.LoadAll([]Definition{{ID: "bad", Kind: JSONSchema}}); err == nil {
		t.Fatal("expected LoadError")
	}
	if reg.Exists("bad") {
		t.Fatal("schema must not be installed after a failed compile")
	}
}

func testWarnOnlyAlwaysOk(t *testing.T) {
	stub := &stubCompiled{err: &ValidationError{Code: CodeTypeMismatch, Message: "bad"}}
	reg, _ := New(10)
	reg.RegisterCompiler(&stubCompiler{kind: JSONSchema, compile: func(def Definition) (CompiledSchema, error) { return stub, nil }})
	_ = reg.LoadAll([]Definition{{ID: "s1", Kind: JSONSchema}})

	violated, err := reg.Validate("s1", []byte("x"), ModeWarnOnly)
	if err != nil {
		t.Fatalf("warn_only must never return an error, got %s", err)
	}
	if !violated {
		t.Fatal("expected violated=true to drive a warning audit event")
	}
}

func testReloadPurgesCacheButPreservesVerdict(t *testing.T) {
	stub1 := &stubCompiled{}
	reg, _ := New(10)
	reg.RegisterCompiler(&stubCompiler{kind: JSONSchema, compile: func(def Definition) (CompiledSchema, error) { return stub1, nil }})
	_ = reg.LoadAll([]Definition{{ID: "s1", Kind: JSONSchema}})
	if _, err := reg.Validate("s1", []byte("x"), ModeStrict); err != nil {
		t.Fatalf("unexpected: %s", err)
	}

	stub2 := &stubCompiled{}
	reg.RegisterCompiler(&stubCompiler{kind: JSONSchema, compile: func(def Definition) (CompiledSchema, error) { return stub2, nil }})
	if err := reg.Reload(Definition{ID: "s1", Kind: JSONSchema}); err != nil {
		t.Fatalf("reload: %s", err)
	}

	// cache was purged: validating the same payload must hit the new
	// compiled form, not a stale cached outcome.
	if _, err := reg.Validate("s1", []byte("x"), ModeStrict); err != nil {
		t.Fatalf("unexpected: %s", err)
	}
	if stub2.calls != 1 {
		t.Fatalf("expected reload to purge the cache, new compiled form called %d times", stub2.calls)
	}
}

func TestRegistry(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"load all and validate", testLoadAllAndValidate},
		{"load all fails fast", testLoadAllFailsFast},
		{"warn only always ok", testWarnOnlyAlwaysOk},
		{"reload purges cache but preserves verdict", testReloadPurgesCacheButPreservesVerdict},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
