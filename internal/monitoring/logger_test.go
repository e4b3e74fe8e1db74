package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("capture warning: %d", 10)
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op logger that must not panic
	SetLogger(nil)
	Logf("dropped message")
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
}
