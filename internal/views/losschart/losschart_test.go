package losschart

import (
	"strings"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		width  int
		want   string
	}{
		{"empty", nil, 10, ""},
		{"flat", []float64{0.5, 0.5, 0.5}, 10, "▁▁▁"},
		{"falling", []float64{1, 0.5, 0}, 10, "█▄▁"},
		{"keeps newest", []float64{3, 2, 1, 0}, 2, "█▁"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sparkline(tt.values, tt.width); got != tt.want {
				t.Errorf("Sparkline() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecordMergesAndOrders(t *testing.T) {
	m := New()
	m.Record(2, f(0.5), nil)
	m.Record(1, f(0.9), f(1.0))
	m.Record(2, nil, f(0.6))
	m.Record(0, f(9), nil)
	m.Record(3, nil, nil)

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	train := m.series(func(p point) *float64 { return p.train })
	if len(train) != 2 || train[0] != 0.9 || train[1] != 0.5 {
		t.Errorf("train series = %v", train)
	}
	val := m.series(func(p point) *float64 { return p.val })
	if len(val) != 2 || val[1] != 0.6 {
		t.Errorf("val series = %v", val)
	}
}

func TestView(t *testing.T) {
	m := New()
	m.Width = 60
	if !strings.Contains(m.View(), "Loss history appears") {
		t.Error("empty chart should show placeholder")
	}

	m.Record(1, f(1.0), nil)
	m.Record(2, f(0.25), nil)
	v := m.View()
	if !strings.Contains(v, "0.2500") {
		t.Errorf("view should show last loss:\n%s", v)
	}
	if !strings.Contains(v, "val_loss") {
		t.Error("view should label the validation row")
	}
}
