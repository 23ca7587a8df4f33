package model

import (
	"testing"
	"time"
)

func TestNullTime_Scan(t *testing.T) {
	t.Parallel()

	ref := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		in        any
		wantValid bool
		want      time.Time
		wantErr   bool
	}{
		{name: "nil", in: nil},
		{name: "time", in: ref, wantValid: true, want: ref},
		{name: "text_datetime", in: "2024-01-15 10:30:00", wantValid: true, want: ref},
		{name: "bytes_date", in: []byte("2024-01-15"), wantValid: true, want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "rfc3339", in: "2024-01-15T10:30:00Z", wantValid: true, want: ref},
		{name: "empty", in: "  "},
		{name: "mysql_zero", in: "0000-00-00"},
		{name: "garbage", in: "not a date", wantErr: true},
		{name: "unsupported_type", in: 12, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var n NullTime
			err := n.Scan(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Scan(%v) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if n.Valid != tc.wantValid {
				t.Fatalf("Valid=%v, want %v", n.Valid, tc.wantValid)
			}
			if tc.wantValid && !n.Time.Equal(tc.want) {
				t.Fatalf("Time=%v, want %v", n.Time, tc.want)
			}
		})
	}
}

func TestSale_DateKeyAndKey(t *testing.T) {
	t.Parallel()

	s := Sale{SaleNumber: "S100", ProductCode: "P1", SaleDate: time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)}
	if got := s.DateKey(); got != "2024-01-15" {
		t.Fatalf("DateKey=%q", got)
	}
	if got := s.Key(); got != (SaleKey{SaleNumber: "S100", ProductCode: "P1"}) {
		t.Fatalf("Key=%+v", got)
	}
	if got := (Sale{}).DateKey(); got != "" {
		t.Fatalf("zero DateKey=%q, want empty", got)
	}
}

func TestParseTime_KeepsSourceOffset(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"2024-01-15T22:00:00-05:00", "2024-01-15 22:00:00-05:00"} {
		ts, err := ParseTime(in)
		if err != nil {
			t.Fatalf("ParseTime(%q): %v", in, err)
		}
		if !ts.Equal(time.Date(2024, 1, 16, 3, 0, 0, 0, time.UTC)) {
			t.Fatalf("ParseTime(%q)=%v, wrong instant", in, ts)
		}
		if got := (Sale{SaleDate: ts}).DateKey(); got != "2024-01-15" {
			t.Fatalf("DateKey(%q)=%q, want 2024-01-15", in, got)
		}
	}
}
