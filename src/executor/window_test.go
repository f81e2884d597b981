package executor

import (
	"testing"
	"time"
)

func TestNextWindow(t *testing.T) {
	interval := 15 * time.Minute

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			name: "mid window rounds up",
			at:   time.Date(2025, time.June, 1, 12, 7, 30, 0, time.UTC),
			want: time.Date(2025, time.June, 1, 12, 15, 0, 0, time.UTC),
		},
		{
			name: "just after boundary rounds to next",
			at:   time.Date(2025, time.June, 1, 12, 15, 1, 0, time.UTC),
			want: time.Date(2025, time.June, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			name: "exact boundary maps to the following window",
			at:   time.Date(2025, time.June, 1, 12, 30, 0, 0, time.UTC),
			want: time.Date(2025, time.June, 1, 12, 45, 0, 0, time.UTC),
		},
		{
			name: "last window of the hour rolls over",
			at:   time.Date(2025, time.June, 1, 12, 59, 59, 0, time.UTC),
			want: time.Date(2025, time.June, 1, 13, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextWindow(tt.at, interval)
			if !got.Equal(tt.want) {
				t.Fatalf("NextWindow(%s) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

func TestNextWindowDefaultsInterval(t *testing.T) {
	at := time.Date(2025, time.June, 1, 12, 7, 0, 0, time.UTC)
	got := NextWindow(at, 0)
	want := time.Date(2025, time.June, 1, 12, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextWindow with zero interval = %s, want %s", got, want)
	}
}
