package transform

import (
	"fmt"
	"time"

	"salesdw/internal/model"
)

var monthNames = [...]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

var weekdayNames = [...]string{"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

// MaxCalendarDays bounds one Calendar call (about 100 years).
const MaxCalendarDays = 36525

// Calendar returns one Day per calendar date in [from, to], both inclusive.
// Times are truncated to UTC dates.
func Calendar(from, to time.Time) ([]model.Day, error) {
	from, to = dateOf(from), dateOf(to)
	if to.Before(from) {
		return nil, fmt.Errorf("calendar: end %s before start %s", to.Format(model.DateLayout), from.Format(model.DateLayout))
	}
	n := int(to.Sub(from).Hours()/24) + 1
	if n > MaxCalendarDays {
		return nil, fmt.Errorf("calendar: %d days exceeds limit of %d", n, MaxCalendarDays)
	}

	out := make([]model.Day, 0, n)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, Day(d))
	}
	return out, nil
}

// Day derives the time dimension attributes of one date.
func Day(d time.Time) model.Day {
	d = dateOf(d)
	wd := int(d.Weekday())
	day := model.Day{
		Date:        d,
		Year:        d.Year(),
		Month:       int(d.Month()),
		Day:         d.Day(),
		Weekday:     wd,
		MonthName:   monthNames[d.Month()-1],
		WeekdayName: weekdayNames[wd],
		Quarter:     (int(d.Month())-1)/3 + 1,
		Weekend:     wd == 0 || wd == 6,
	}
	day.RowHash = rowHash(
		f("fecha", day.Date), f("anio", day.Year), f("mes", day.Month), f("dia", day.Day),
		f("dia_semana", day.Weekday), f("nombre_mes", day.MonthName),
		f("nombre_dia", day.WeekdayName), f("trimestre", day.Quarter), f("es_fin_semana", day.Weekend),
	)
	return day
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
