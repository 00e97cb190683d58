package validation

import (
	"strings"
	"testing"
)

func TestValidateSensorID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "soil7", false},
		{"with hyphen", "soil-7", false},
		{"with underscore", "soil_moisture_3", false},
		{"scoped", "field3.soil-7", false},
		{"numbers", "123", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"control char", "a\x00b", true},
		{"space", "soil 7", true},
		{"too long", strings.Repeat("a", 129), true},
		{"max length", strings.Repeat("a", 128), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSensorID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSensorID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateUnit(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"word", "celsius", false},
		{"symbol", "°C", false},
		{"ratio", "l/min", false},
		{"percent", "%", false},
		{"flux", "µmol/m²/s", false},
		{"empty", "", true},
		{"control char", "c\x01", true},
		{"too long", strings.Repeat("x", 33), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUnit(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUnit(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestEscapeLikePattern(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"50%", "50\\%"},
		{"a_b", "a\\_b"},
		{"x[1]", "x\\[1\\]"},
		{"back\\slash", "back\\\\slash"},
	}

	for _, tt := range tests {
		if got := EscapeLikePattern(tt.input); got != tt.want {
			t.Errorf("EscapeLikePattern(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSafeLikePrefix(t *testing.T) {
	if got := SafeLikePrefix("soil_"); got != "soil\\_%" {
		t.Errorf("SafeLikePrefix = %q, want soil\\_%%", got)
	}
}
