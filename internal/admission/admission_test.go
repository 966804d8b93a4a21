package admission

import (
	"context"
	"testing"
)

func TestAPIKeyAuthenticateSuccess(t *testing.T) {
	a := NewAPIKeyAuthenticator(map[string]string{"secret-key-1": "owner-1"})
	caller, err := a.Authenticate(context.Background(), "secret-key-1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if caller.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want owner-1", caller.OwnerID)
	}
}

func TestAPIKeyAuthenticateRejectsUnknownKey(t *testing.T) {
	a := NewAPIKeyAuthenticator(map[string]string{"secret-key-1": "owner-1"})
	if _, err := a.Authenticate(context.Background(), "wrong-key"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestAPIKeyAuthenticateRejectsEmpty(t *testing.T) {
	a := NewAPIKeyAuthenticator(map[string]string{"secret-key-1": "owner-1"})
	if _, err := a.Authenticate(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSanitizeOwnerID(t *testing.T) {
	tests := []struct {
		name string
		sub  string
		want string
	}{
		{name: "simple", sub: "john", want: "john"},
		{name: "pipe separator", sub: "auth0|12345", want: "auth0-12345"},
		{name: "uppercase", sub: "John.Doe", want: "john-doe"},
		{name: "digit first gets prefix", sub: "12345", want: "u-12345"},
		{name: "letter first unchanged", sub: "f47ac10b-58cc-4372-a567-0e02b2c3d479", want: "f47ac10b-58cc-4372-a567-0e02b2c3d479"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeOwnerID(tt.sub)
			if got != tt.want {
				t.Errorf("SanitizeOwnerID(%q) = %q, want %q", tt.sub, got, tt.want)
			}
		})
	}
}
