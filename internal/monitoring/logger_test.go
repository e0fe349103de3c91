package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op; the previous logger must not be reached
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}

func TestDiagf_Gated(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetDiagnostics(false)
	}()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	SetDiagnostics(false)
	Diagf("scan %d", 1)
	if len(got) != 0 {
		t.Fatalf("expected no output with diagnostics disabled, got %v", got)
	}

	SetDiagnostics(true)
	if !DiagnosticsEnabled() {
		t.Fatal("DiagnosticsEnabled() = false after SetDiagnostics(true)")
	}
	Diagf("scan %d", 2)
	if len(got) != 1 || got[0] != "[diag] scan 2" {
		t.Errorf("unexpected diag output %v", got)
	}
}
