package period

import (
	"errors"
	"testing"
	"time"
)

func TestNewRejectsInvertedBounds(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, err := New(now, now.Add(-time.Minute)); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("New() err = %v, want ErrInvalidPeriod", err)
	}
	p, err := New(now, now)
	if err != nil {
		t.Fatalf("New(empty) error: %v", err)
	}
	if !p.IsEmpty() {
		t.Fatal("expected empty period")
	}
}

func TestContainsIsHalfOpen(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := Of(start, time.Hour)
	if !p.Contains(start) {
		t.Fatal("start must be contained")
	}
	if p.Contains(start.Add(time.Hour)) {
		t.Fatal("end must not be contained")
	}
	if p.Contains(start.Add(-time.Nanosecond)) {
		t.Fatal("instant before start must not be contained")
	}
}

func TestOverlaps(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day := Of(base, 24*time.Hour)
	tests := []struct {
		name string
		p    Period
		want bool
	}{
		{name: "inside", p: Of(base.Add(time.Hour), time.Hour), want: true},
		{name: "touching end", p: Of(base.Add(24*time.Hour), time.Hour), want: false},
		{name: "touching start", p: Of(base.Add(-time.Hour), time.Hour), want: false},
		{name: "straddling start", p: Of(base.Add(-time.Hour), 2*time.Hour), want: true},
		{name: "empty inside", p: Of(base.Add(time.Hour), 0), want: true},
		{name: "empty at end", p: Of(base.Add(24*time.Hour), 0), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := day.Overlaps(tt.p); got != tt.want {
				t.Fatalf("Overlaps(%s) = %v, want %v", tt.p, got, tt.want)
			}
			if got := tt.p.Overlaps(day); got != tt.want {
				t.Fatalf("symmetric Overlaps(%s) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestShiftKeepsDuration(t *testing.T) {
	t.Parallel()
	p := Of(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), 90*time.Minute)
	s := p.Shift(24 * time.Hour)
	if s.Duration() != p.Duration() {
		t.Fatalf("Duration = %v, want %v", s.Duration(), p.Duration())
	}
	if !s.Start().Equal(p.Start().Add(24 * time.Hour)) {
		t.Fatalf("Start = %v", s.Start())
	}
}
