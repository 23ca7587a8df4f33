package transform

import (
	"database/sql"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "collapse", in: "  Arroz \t  Diana\n 500g ", want: "Arroz Diana 500g"},
		{name: "html", in: "<b>Café</b>   <i>Molido</i>", want: "Café Molido"},
		{name: "entity_in_markup", in: "<p>Pan &amp; Queso</p>", want: "Pan & Queso"},
		{name: "self_closing", in: "Linea <br/> Dos", want: "Linea Dos"},
		{name: "bare_lt", in: "Ferreteria A<B Ltda", want: "Ferreteria A<B Ltda"},
		{name: "angle_words", in: "Calle 5 <esquina>", want: "Calle 5 <esquina>"},
		{name: "lt_in_measure", in: "Perno 1/2<x3", want: "Perno 1/2<x3"},
		{name: "entity_without_markup", in: "Tom &amp; Jerry", want: "Tom &amp; Jerry"},
		{name: "nfc", in: "Cafe\u0301", want: "Caf\u00e9"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CleanText(tc.in); got != tc.want {
				t.Fatalf("CleanText(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCleanText_CapsRunes(t *testing.T) {
	t.Parallel()

	got := CleanText(strings.Repeat("ñ", 300))
	if n := utf8.RuneCountInString(got); n != MaxTextLen {
		t.Fatalf("runes=%d want %d", n, MaxTextLen)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune")
	}
}

func TestCleanEmail(t *testing.T) {
	t.Parallel()

	str := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

	if got := CleanEmail(str("  Ana.Perez@Mail.COM ")); !got.Valid || got.String != "ana.perez@mail.com" {
		t.Fatalf("CleanEmail=%+v", got)
	}
	for _, bad := range []string{"", "ana", "ana@mail", "a b@mail.com", "@mail.com"} {
		if got := CleanEmail(str(bad)); got.Valid {
			t.Fatalf("CleanEmail(%q) should be NULL, got %q", bad, got.String)
		}
	}
	if CleanEmail(sql.NullString{}).Valid {
		t.Fatalf("NULL email must stay NULL")
	}
}

func TestCleanPhone(t *testing.T) {
	t.Parallel()

	str := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

	if got := CleanPhone(str(" +57 (300) 123-4567 ext.")); got.String != "+57 (300) 123-4567" {
		t.Fatalf("CleanPhone=%q", got.String)
	}
	if got := CleanPhone(str("123456789012345678901234")); len(got.String) != MaxPhoneLen {
		t.Fatalf("CleanPhone not capped: %q", got.String)
	}
	if got := CleanPhone(str("n/a")); got.Valid {
		t.Fatalf("phone without digits must be NULL, got %q", got.String)
	}
}
