package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/invalidate"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/projection"
)

const publicLeaderboardSize = 20

// memberView is the public shape of a member's totals.
type memberView struct {
	Slug                  string    `json:"slug"`
	DisplayName           string    `json:"display_name"`
	SpendableBalancePence int64     `json:"spendable_balance_pence"`
	SavingsPence          int64     `json:"savings_pence"`
	LifetimeRaisedPence   int64     `json:"lifetime_raised_pence"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// cached serves GET responses from the page cache, keyed by URL path.
func (h *Handler) cached(fn func(*http.Request) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if h.Pages != nil {
			if p, ok := h.Pages.Get(key); ok {
				writePage(w, "HIT", p)
				return
			}
		}
		v, err := fn(r)
		if err != nil {
			h.logger.Error("read model failed", "path", key, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to load data")
			return
		}
		p, err := jsonPage(v)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if h.Pages != nil {
			h.Pages.Set(key, p)
		}
		writePage(w, "MISS", p)
	}
}

func jsonPage(v interface{}) (invalidate.Page, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return invalidate.Page{}, err
	}
	return invalidate.Page{ContentType: "application/json", Body: buf.Bytes()}, nil
}

func writePage(w http.ResponseWriter, cache string, p invalidate.Page) {
	w.Header().Set("Content-Type", p.ContentType)
	w.Header().Set("X-Cache", cache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(p.Body)
}

// GET /leaderboard
func (h *Handler) publicLeaderboard(r *http.Request) (interface{}, error) {
	rows, err := h.Store.Donations(r.Context(), ledger.DonationFilter{})
	if err != nil {
		return nil, err
	}
	return projection.Leaderboard(rows, publicLeaderboardSize, h.companies()), nil
}

// companies returns the live company normalizer, or nil to rank by the
// names stored at write time.
func (h *Handler) companies() func(string) string {
	if h.Engine == nil {
		return nil
	}
	if rules := h.Engine.Rules(); rules != nil && rules.Companies != nil {
		return rules.Companies.Normalize
	}
	return nil
}

// GET /members/{ref} — cached under /members/{slug} so donation
// invalidations reach it whichever reference the caller used.
func (h *Handler) publicMember(w http.ResponseWriter, r *http.Request) {
	if h.Pages != nil {
		if p, ok := h.Pages.Get(r.URL.Path); ok {
			writePage(w, "HIT", p)
			return
		}
	}
	m, ok := h.lookupMember(w, r)
	if !ok {
		return
	}
	p, err := jsonPage(memberView{
		Slug:                  m.Slug,
		DisplayName:           m.DisplayName,
		SpendableBalancePence: m.SpendableBalancePence,
		SavingsPence:          m.SavingsPence,
		LifetimeRaisedPence:   m.LifetimeRaisedPence,
		UpdatedAt:             m.UpdatedAt,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.Pages != nil && m.Slug != "" {
		h.Pages.Set("/members/"+m.Slug, p)
	}
	writePage(w, "MISS", p)
}

// lookupMember resolves {ref} by ID, slug or legacy ID, writing a 404 when
// nothing matches.
func (h *Handler) lookupMember(w http.ResponseWriter, r *http.Request) (ledger.Member, bool) {
	ref := r.PathValue("ref")
	members, err := h.Store.Members(r.Context())
	if err != nil {
		h.logger.Error("list members failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return ledger.Member{}, false
	}
	for _, m := range members {
		if m.ID == ref || (m.Slug != "" && m.Slug == ref) || (m.LegacyID != "" && m.LegacyID == ref) {
			return m, true
		}
	}
	writeError(w, http.StatusNotFound, "member not found")
	return ledger.Member{}, false
}

// GET /admin/reports/leaderboard?limit=N[&format=csv]
func (h *Handler) adminLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, ok := h.donations(w, r, ledger.DonationFilter{})
	if !ok {
		return
	}
	board := projection.Leaderboard(rows, limit, h.companies())
	if wantsCSV(r) {
		writeCSV(w, "leaderboard.csv", projection.LeaderboardColumns, board)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": board})
}

// GET /admin/reports/monthly?from=YYYY-MM&to=YYYY-MM[&format=csv]
// Both bounds are inclusive months.
func (h *Handler) adminMonthly(w http.ResponseWriter, r *http.Request) {
	var f ledger.DonationFilter
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, err := projection.ParseMonth(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.From = t
	}
	if s := q.Get("to"); s != "" {
		t, err := projection.ParseMonth(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.To = t.AddDate(0, 1, 0)
	}
	rows, ok := h.donations(w, r, f)
	if !ok {
		return
	}
	months := projection.MonthlyReconciliation(rows)
	if wantsCSV(r) {
		writeCSV(w, "monthly.csv", projection.MonthlyColumns, months)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"months": months})
}

// GET /admin/members/{ref}/balance — live aggregate next to its replay.
func (h *Handler) adminBalance(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookupMember(w, r)
	if !ok {
		return
	}
	rows, ok := h.donations(w, r, ledger.DonationFilter{MemberID: m.ID})
	if !ok {
		return
	}
	replayed := projection.MemberBalance(m.ID, rows)
	if wantsCSV(r) {
		writeCSV(w, "balance.csv", projection.BalanceColumns, []projection.Balance{replayed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"member":   m,
		"replayed": replayed,
		"drift":    projection.Verify([]ledger.Member{m}, rows),
	})
}

// GET /admin/members/{ref}/savings
func (h *Handler) adminSavings(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookupMember(w, r)
	if !ok {
		return
	}
	rows, ok := h.donations(w, r, ledger.DonationFilter{MemberID: m.ID})
	if !ok {
		return
	}
	entries := projection.SavingsLedger(m.ID, rows)
	if wantsCSV(r) {
		writeCSV(w, "savings.csv", projection.SavingsColumns, entries)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"member_id": m.ID, "entries": entries})
}

// GET /admin/webhook-events?status=failed&limit=N
func (h *Handler) adminEnvelopes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.EnvelopeFilter{Status: event.EnvelopeStatus(q.Get("status"))}
	if f.Status != "" && f.Status != event.StatusProcessing && !f.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	recs, err := h.Store.Envelopes(r.Context(), f)
	if err != nil {
		h.logger.Error("list envelopes failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load envelopes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": recs})
}

func (h *Handler) donations(w http.ResponseWriter, r *http.Request, f ledger.DonationFilter) ([]event.DonationEvent, bool) {
	rows, err := h.Store.Donations(r.Context(), f)
	if err != nil {
		h.logger.Error("read donations failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load donations")
		return nil, false
	}
	return rows, true
}
