package pebblelog

import "testing"

func TestLIsUsableBeforeSetLogger(t *testing.T) {
	L().Infow("no panic expected")
}

func TestSetLoggerInstallsDevelopment(t *testing.T) {
	if err := NewDevelopment(); err != nil {
		t.Fatalf("NewDevelopment: %v", err)
	}
	L().Infow("development logger active")
}
