package redirect

import (
	"net/url"
	"sort"
	"strings"

	"storefront/internal/domain"
)

const unknownReason = "unknown"

// Parse extracts the payment outcome from query. The boolean is false when no
// status parameter of the schema is present, i.e. a normal page visit.
func Parse(s Schema, query url.Values) (domain.RedirectOutcome, bool) {
	if !hasAny(query, s.StatusParams) {
		return domain.RedirectOutcome{}, false
	}

	raw := first(query, s.StatusParams)
	out := domain.RedirectOutcome{
		RawStatus:        raw,
		Succeeded:        isSuccess(s, raw),
		PaymentReference: first(query, s.ReferenceParams),
		ItemIDHint:       first(query, s.ItemParams),
		Signature:        first(query, s.SignatureParams),
		LinkID:           first(query, s.LinkIDParams),
		LinkReference:    first(query, s.LinkRefParams),
	}
	if !out.Succeeded {
		out.FailureReason = first(query, s.ReasonParams)
		if out.FailureReason == "" {
			out.FailureReason = raw
		}
		if out.FailureReason == "" {
			out.FailureReason = unknownReason
		}
	}
	return out, true
}

// Strip returns a copy of query without any parameter the schema recognizes.
func Strip(s Schema, query url.Values) url.Values {
	out := url.Values{}
	for k, v := range query {
		out[k] = append([]string(nil), v...)
	}
	for _, p := range s.params() {
		out.Del(p)
	}
	return out
}

// Canonical renders the recognized parameters in a stable order. Two requests
// carrying the same redirect produce the same string.
func Canonical(s Schema, query url.Values) string {
	var parts []string
	for _, p := range s.params() {
		for _, v := range query[p] {
			parts = append(parts, url.QueryEscape(p)+"="+url.QueryEscape(v))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

func isSuccess(s Schema, raw string) bool {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return false
	}
	for _, ok := range s.SuccessTokens {
		if token == ok {
			return true
		}
	}
	return false
}

func hasAny(query url.Values, names []string) bool {
	for _, n := range names {
		if _, ok := query[n]; ok {
			return true
		}
	}
	return false
}

func first(query url.Values, names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(query.Get(n)); v != "" {
			return v
		}
	}
	return ""
}
