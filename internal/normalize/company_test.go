package normalize_test

import (
	"testing"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/normalize"
)

func TestCompanyTable_AliasesCollapse(t *testing.T) {
	tbl := normalize.NewCompanyTable(map[string][]string{
		"Marks & Spencer": {"M&S", "marks and spencer"},
	})
	for _, in := range []string{"marks & spencer", "MARKS&SPENCER", " Marks  &  Spencer ", "m&s", "M & S", "Marks and Spencer"} {
		if got := tbl.Normalize(in); got != "Marks & Spencer" {
			t.Errorf("Normalize(%q) = %q", in, got)
		}
	}
}

func TestCompanyTable_Placeholders(t *testing.T) {
	tbl := normalize.NewCompanyTable(nil)
	for _, in := range []string{"", "  ", "no", "None", "OTHER", "n/a", "-", "Unknown/Other", "!!!"} {
		if got := tbl.Normalize(in); got != event.UnknownCompany {
			t.Errorf("Normalize(%q) = %q, want sentinel", in, got)
		}
	}
}

func TestCompanyTable_TitleCaseFallback(t *testing.T) {
	tbl := normalize.NewCompanyTable(nil)
	if got := tbl.Normalize("  big   BLUE widgets "); got != "Big Blue Widgets" {
		t.Errorf("unexpected title case %q", got)
	}
}

func TestCompanyTable_Idempotent(t *testing.T) {
	tbl := normalize.NewCompanyTable(map[string][]string{
		"Acme Ltd":   {"acme"},
		"BT Group":   {"bt", "british telecom"},
		"John Lewis": {"jlp", "john lewis partnership"},
	})
	inputs := []string{
		"acme", "ACME LTD", "bt", "British Telecom", "jlp", "unheard of co", "O'Neill & sons",
		"", "none", "ÉCOLE du monde", "123 holdings", "x\u200by", "tab\there",
		"\ufb01rm", "\ufb01rm partners", "ßtraße gmbh", "\uff21\uff23\uff2d\uff25",
	}
	for _, in := range inputs {
		once := tbl.Normalize(in)
		if twice := tbl.Normalize(once); twice != once {
			t.Errorf("not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestConflicts(t *testing.T) {
	got := normalize.Conflicts(map[string][]string{
		"Acme Ltd":  {"acme"},
		"Acme Corp": {"ACME", "acme corporation"},
		"Northwind": {"north wind"},
	})
	if len(got) != 1 || got[0] != "acme: Acme Corp, Acme Ltd" {
		t.Fatalf("unexpected conflicts: %v", got)
	}
	if got := normalize.Conflicts(map[string][]string{"Northwind": {"NorthWind"}}); len(got) != 0 {
		t.Fatalf("self alias reported as conflict: %v", got)
	}
}

func TestCompanyTable_CompatibilityForms(t *testing.T) {
	tbl := normalize.NewCompanyTable(map[string][]string{
		"Firm Co":  {"firm"},
		"Acme Ltd": {"acme"},
	})
	want := map[string]string{
		"\ufb01rm":                  "Firm Co",
		"\uff21\uff23\uff2d\uff25": "Acme Ltd",
		"\ufb01nch bakery":          "Finch Bakery",
	}
	for in, w := range want {
		if got := tbl.Normalize(in); got != w {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, w)
		}
	}
}
