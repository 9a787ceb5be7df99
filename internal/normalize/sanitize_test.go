package normalize_test

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/gyaneshwarpardhi/donationledger/internal/normalize"
)

func TestSanitizer_DonorName(t *testing.T) {
	s := normalize.NewSanitizer(normalize.SanitizeConfig{DonorNameMax: 10})
	cases := map[string]string{
		"":                   "Anonymous",
		"   ":                "Anonymous",
		"\x00\x1b":           "Anonymous",
		"  Jo   Bloggs ":     "Jo Bloggs",
		"Alexandria Ocasio": "Alexandria",
	}
	for in, want := range cases {
		if got := s.DonorName(in); got != want {
			t.Errorf("DonorName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizer_MessageRemovesLinks(t *testing.T) {
	s := normalize.NewSanitizer(normalize.SanitizeConfig{})
	inputs := []string{
		"visit http://evil.example/path now",
		"HTTPS://EVIL.EXAMPLE",
		"www.evil-site.net/promo",
		"go to evil.com today",
		"bit.ly/abc123",
		"visit scam.shop now",
		"pay at evil.ai/pay",
		"see 203.0.113.7/login",
		"promo.online",
		"PROMO.ONLINE:8443/x",
		"sub.domain.museum",
	}
	frags := []string{
		"http", "evil.example", "evil-site.net", "evil.com", "bit.ly",
		"scam.shop", "evil.ai", "203.0.113.7", "promo.online", "domain.museum",
	}
	for _, in := range inputs {
		out := s.Message(in)
		if !strings.Contains(out, "[link removed]") {
			t.Errorf("Message(%q) = %q, expected a redaction", in, out)
		}
		for _, frag := range frags {
			if strings.Contains(strings.ToLower(out), frag) {
				t.Errorf("Message(%q) = %q still contains %q", in, out, frag)
			}
		}
	}
}

func TestSanitizer_MessageStripsControlAndClamps(t *testing.T) {
	s := normalize.NewSanitizer(normalize.SanitizeConfig{MessageMax: 20})
	out := s.Message("hello\x00\x07 world\u202e" + strings.Repeat("ab", 50))
	for _, r := range out {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			t.Errorf("control rune %U survived in %q", r, out)
		}
	}
	if n := utf8.RuneCountInString(out); n > 20 {
		t.Errorf("message length %d exceeds max", n)
	}
}

func TestSanitizer_MasksDenylist(t *testing.T) {
	s := normalize.NewSanitizer(normalize.SanitizeConfig{Denylist: []string{"heck", "darn"}})
	if got := s.Message("What the HECK, darnit and darn"); got != "What the ****, darnit and ****" {
		t.Errorf("unexpected masking %q", got)
	}
	if got := s.DonorName("Darn Smith"); got != "**** Smith" {
		t.Errorf("unexpected name masking %q", got)
	}
}

func TestSanitizer_StripsMarkup(t *testing.T) {
	s := normalize.NewSanitizer(normalize.SanitizeConfig{})
	if got := s.Message(`<b>Go</b> team & friends <img src=x onerror=alert(1)>`); got != "Go team & friends" {
		t.Errorf("Message = %q", got)
	}
	if got := s.DonorName(`<i>Jo</i>`); got != "Jo" {
		t.Errorf("DonorName = %q", got)
	}
}

func TestSanitizer_MessageKeepsPlainProse(t *testing.T) {
	s := normalize.NewSanitizer(normalize.SanitizeConfig{})
	for _, in := range []string{"Good luck. Keep going!", "Proud of you, e.g. the 5k run.", "3.5 miles in 2.5 hrs"} {
		if got := s.Message(in); got != in {
			t.Errorf("Message(%q) = %q, want unchanged", in, got)
		}
	}
}
