package transform

import (
	"testing"
	"time"
)

func TestDay_Attributes(t *testing.T) {
	t.Parallel()

	d := Day(time.Date(2024, 1, 15, 18, 45, 0, 0, time.UTC))
	if d.NaturalKey() != "2024-01-15" {
		t.Fatalf("key=%s", d.NaturalKey())
	}
	if d.Year != 2024 || d.Month != 1 || d.Day != 15 || d.Quarter != 1 {
		t.Fatalf("day=%+v", d)
	}
	if d.Weekday != 1 || d.WeekdayName != "Lunes" || d.MonthName != "Enero" || d.Weekend {
		t.Fatalf("day=%+v", d)
	}

	sat := Day(time.Date(2024, 9, 14, 0, 0, 0, 0, time.UTC))
	if !sat.Weekend || sat.WeekdayName != "Sábado" || sat.Quarter != 3 || sat.MonthName != "Septiembre" {
		t.Fatalf("saturday=%+v", sat)
	}
	sun := Day(time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC))
	if !sun.Weekend || sun.Weekday != 0 || sun.WeekdayName != "Domingo" || sun.Quarter != 4 {
		t.Fatalf("sunday=%+v", sun)
	}
}

func TestCalendar_InclusiveRange(t *testing.T) {
	t.Parallel()

	days, err := Calendar(time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	want := []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}
	if len(days) != len(want) {
		t.Fatalf("len=%d want %d", len(days), len(want))
	}
	for i, d := range days {
		if d.NaturalKey() != want[i] {
			t.Fatalf("days[%d]=%s want %s", i, d.NaturalKey(), want[i])
		}
	}

	one, err := Calendar(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil || len(one) != 1 {
		t.Fatalf("single day: len=%d err=%v", len(one), err)
	}
}

func TestCalendar_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Calendar(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Fatalf("expected error for reversed range")
	}
	if _, err := Calendar(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Fatalf("expected error for oversized range")
	}
}
