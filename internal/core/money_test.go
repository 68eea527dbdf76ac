package core

import (
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12.34", "12.34", false},
		{"12,34", "12.34", false},
		{"-1800", "-1800", false},
		{"-125.47", "-125.47", false},
		{"+5000", "5000", false},
		{"0", "0", false},
		{" 48.90 ", "48.9", false},
		{"", "", true},
		{"abc", "", true},
		{"12.3.4", "", true},
		{"12..3", "", true},
	}

	for _, c := range cases {
		got, err := ParseAmount(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q): expected error, got %s", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got.String() != c.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestNewMoney(t *testing.T) {
	m, err := NewMoney("-23.15", "eur")
	if err != nil {
		t.Fatalf("NewMoney: %v", err)
	}
	if m.Currency != "EUR" {
		t.Errorf("currency not normalized: %q", m.Currency)
	}
	if !m.IsOutflow() {
		t.Error("negative amount should be an outflow")
	}

	if _, err := NewMoney("10", "euros"); err == nil {
		t.Error("expected error for non-ISO currency code")
	}
	if _, err := NewMoney("10", ""); err == nil {
		t.Error("expected error for empty currency")
	}
}

func TestMoneyIsOutflow(t *testing.T) {
	neg, _ := NewMoney("-0.01", "EUR")
	pos, _ := NewMoney("0.01", "EUR")
	zero, _ := NewMoney("0", "EUR")

	if !neg.IsOutflow() {
		t.Error("-0.01 should be an outflow")
	}
	if pos.IsOutflow() {
		t.Error("0.01 should not be an outflow")
	}
	if zero.IsOutflow() {
		t.Error("zero should not be an outflow")
	}
}
