package uuid

import "testing"

func TestNewProducesValidV4(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("New produced invalid UUID v4: %q", id)
		}
		if seen[id] {
			t.Fatalf("New produced duplicate UUID: %q", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid v4", "9b2b1f3e-8a4c-4d6e-9f1a-2b3c4d5e6f70", true},
		{"uppercase v4", "9B2B1F3E-8A4C-4D6E-9F1A-2B3C4D5E6F70", true},
		{"empty", "", false},
		{"legacy epoch millis", "1700000000123", false},
		{"legacy epoch seconds", "1700000000", false},
		{"wrong version", "9b2b1f3e-8a4c-1d6e-9f1a-2b3c4d5e6f70", false},
		{"wrong variant", "9b2b1f3e-8a4c-4d6e-cf1a-2b3c4d5e6f70", false},
		{"no dashes", "9b2b1f3e8a4c4d6e9f1a2b3c4d5e6f70", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.input); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate rejected a fresh UUID: %v", err)
	}
	if err := Validate("1700000000123"); err == nil {
		t.Error("Validate accepted a legacy numeric id")
	}
}
