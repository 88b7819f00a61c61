package envelope

import "testing"

func TestBuilderSuccess(t *testing.T) {
	env, err := NewBuilder().
		Success(map[string]string{"ok": "yes"}).
		AddDiagnostic(Info("did a thing")).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !env.Result.Success {
		t.Fatal("expected success result")
	}
	if len(env.Diagnostics) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(env.Diagnostics))
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestBuilderError(t *testing.T) {
	env, err := NewBuilder().
		ErrorWithCode("container exec failed", "CONTAINER_EXEC_RUNTIME_ERROR").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if env.Result.Success {
		t.Fatal("expected error result")
	}
	if env.Result.Code != "CONTAINER_EXEC_RUNTIME_ERROR" {
		t.Fatalf("unexpected code %q", env.Result.Code)
	}
}

func TestValidateRejectsAmbiguousResult(t *testing.T) {
	env := Envelope{
		Diagnostics: []Diagnostic{},
		Result:      Result{Success: true, Message: "oops"},
	}
	if err := env.Validate(); err != ErrAmbiguousState {
		t.Fatalf("expected ErrAmbiguousState, got %v", err)
	}
}

func TestValidateRejectsMissingResult(t *testing.T) {
	env := Envelope{Diagnostics: []Diagnostic{}}
	if err := env.Validate(); err != ErrMissingResult {
		t.Fatalf("expected ErrMissingResult, got %v", err)
	}
}

func TestValidateRequiresDiagnosticsSlice(t *testing.T) {
	env := Envelope{Result: Result{Success: true}}
	if err := env.Validate(); err == nil {
		t.Fatal("expected error for nil diagnostics")
	}
}
