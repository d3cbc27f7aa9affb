package youtube

import "testing"

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT33M8S", 1988},
		{"PT5M", 300},
		{"PT1H2M3S", 3723},
		{"PT2H", 7200},
		{"PT45S", 45},
		{"PT", 0},
		{"", 0},
		{"garbage", 0},
		{"P1DT2H", 0},     // day component is outside the grammar
		{"PT3S2M", 0},     // out of order
		{"PT5M extra", 0}, // trailing content
		{"PT5M8S999", 0},  // trailing digits
		{"pt5m", 0},       // case sensitive
	}

	for _, tt := range tests {
		if got := ParseDuration(tt.in); got != tt.want {
			t.Errorf("ParseDuration(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
