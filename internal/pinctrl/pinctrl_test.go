package pinctrl

import "testing"

func TestParseLevelOutput(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"0", false},
		{"1", true},
		{"\n1\n", true},
		{"\n0\n", false},
	}
	for _, tc := range tests {
		result, err := parseLevelOutput(tc.input, 4)
		if err != nil {
			t.Errorf("error parsing level output %q: %v", tc.input, err)
		}
		if result != tc.expected {
			t.Errorf("expected %v for input %q, got %v", tc.expected, tc.input, result)
		}
	}
}

func TestParseLevelOutputGarbage(t *testing.T) {
	for _, input := range []string{"", "hi", "10", "0 1"} {
		if _, err := parseLevelOutput(input, 4); err == nil {
			t.Errorf("expected error for input %q", input)
		}
	}
}
