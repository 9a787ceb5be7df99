package normalize

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
)

var placeholderCompanies = []string{"", "no", "none", "other", "n/a", "na", "nil", "null", "unknown", "-", event.UnknownCompany}

// CompanyTable collapses free-text company names to canonical forms.
// Lookups ignore case, compatibility forms, whitespace and punctuation.
// A table is immutable once built and safe for concurrent use.
type CompanyTable struct {
	canonical   map[string]string
	placeholder map[string]bool
}

// NewCompanyTable builds a table from canonical name -> aliases. Every
// canonical name is also an alias of itself, which keeps Normalize idempotent.
func NewCompanyTable(aliases map[string][]string) *CompanyTable {
	t := &CompanyTable{
		canonical:   make(map[string]string),
		placeholder: make(map[string]bool),
	}
	for _, p := range placeholderCompanies {
		t.placeholder[companyKey(p)] = true
	}
	for canon, list := range aliases {
		canon = strings.Join(strings.Fields(canon), " ")
		if canon == "" {
			continue
		}
		t.canonical[companyKey(canon)] = canon
		for _, a := range list {
			if k := companyKey(a); k != "" {
				t.canonical[k] = canon
			}
		}
	}
	return t
}

// Normalize maps raw to its canonical company name. Placeholders become
// event.UnknownCompany and unrecognized names are title-cased.
func (t *CompanyTable) Normalize(raw string) string {
	k := companyKey(raw)
	if t.placeholder[k] {
		return event.UnknownCompany
	}
	if canon, ok := t.canonical[k]; ok {
		return canon
	}
	fields := strings.Fields(stripControl(norm.NFKC.String(raw)))
	if len(fields) == 0 {
		return event.UnknownCompany
	}
	// Casers carry state; one per call.
	return cases.Title(language.English).String(strings.Join(fields, " "))
}

// Len returns the number of alias keys known to the table.
func (t *CompanyTable) Len() int { return len(t.canonical) }

func companyKey(s string) string {
	var b strings.Builder
	for _, r := range cases.Fold().String(norm.NFKC.String(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Conflicts lists alias keys that more than one canonical name claims,
// formatted as "key: a, b". The result is sorted.
func Conflicts(aliases map[string][]string) []string {
	owners := make(map[string]map[string]bool)
	claim := func(key, canon string) {
		if key == "" {
			return
		}
		if owners[key] == nil {
			owners[key] = make(map[string]bool)
		}
		owners[key][canon] = true
	}
	for canon, list := range aliases {
		canon = strings.Join(strings.Fields(canon), " ")
		if canon == "" {
			continue
		}
		claim(companyKey(canon), canon)
		for _, a := range list {
			claim(companyKey(a), canon)
		}
	}
	var out []string
	for key, set := range owners {
		if len(set) < 2 {
			continue
		}
		names := make([]string, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
		out = append(out, key+": "+strings.Join(names, ", "))
	}
	sort.Strings(out)
	return out
}
