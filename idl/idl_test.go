package idl

import "testing"

func TestFullNameJoinsServiceAndMethod(t *testing.T) {
	d := ServiceDescriptor{Service: "Echo", Methods: []MethodDescriptor{{Name: "Ping"}}}
	if got := d.FullName(d.Methods[0]); got != "Echo:Ping" {
		t.Errorf("FullName = %q, want %q", got, "Echo:Ping")
	}
}

func TestLookupMissing(t *testing.T) {
	d := ServiceDescriptor{Service: "Echo"}
	if _, ok := d.Lookup("Ping"); ok {
		t.Error("Lookup found a method that was never added")
	}
}
