// Package redirect turns the query string a payment provider redirects back with
// into a domain.RedirectOutcome. Providers disagree on parameter names, so each
// integration is described by a Schema.
package redirect

import "fmt"

// Schema lists the query parameters one provider integration uses.
// Within each list the first non-empty parameter wins.
type Schema struct {
	Name            string
	StatusParams    []string
	ReferenceParams []string
	ItemParams      []string
	ReasonParams    []string
	SignatureParams []string
	LinkIDParams    []string
	LinkRefParams   []string
	SuccessTokens   []string
}

var Generic = Schema{
	Name:            "generic",
	StatusParams:    []string{"status"},
	ReferenceParams: []string{"payment_id", "paymentId"},
	ItemParams:      []string{"item_id", "itemId"},
	ReasonParams:    []string{"reason", "error"},
	SuccessTokens:   []string{"success", "paid"},
}

var RazorpayPaymentLink = Schema{
	Name:            "razorpay_payment_link",
	StatusParams:    []string{"razorpay_payment_link_status"},
	ReferenceParams: []string{"razorpay_payment_id"},
	ItemParams:      []string{"internal_plan_id"},
	SignatureParams: []string{"razorpay_signature"},
	LinkIDParams:    []string{"razorpay_payment_link_id"},
	LinkRefParams:   []string{"razorpay_payment_link_reference_id"},
	SuccessTokens:   []string{"paid", "success"},
}

// Any accepts both integrations; used by the standalone confirmation page which
// can be reached from either checkout.
var Any = Merge("any", RazorpayPaymentLink, Generic)

// Merge concatenates schemas in priority order.
func Merge(name string, schemas ...Schema) Schema {
	out := Schema{Name: name}
	for _, s := range schemas {
		out.StatusParams = appendUnique(out.StatusParams, s.StatusParams...)
		out.ReferenceParams = appendUnique(out.ReferenceParams, s.ReferenceParams...)
		out.ItemParams = appendUnique(out.ItemParams, s.ItemParams...)
		out.ReasonParams = appendUnique(out.ReasonParams, s.ReasonParams...)
		out.SignatureParams = appendUnique(out.SignatureParams, s.SignatureParams...)
		out.LinkIDParams = appendUnique(out.LinkIDParams, s.LinkIDParams...)
		out.LinkRefParams = appendUnique(out.LinkRefParams, s.LinkRefParams...)
		out.SuccessTokens = appendUnique(out.SuccessTokens, s.SuccessTokens...)
	}
	return out
}

// SchemaByName resolves the schema names used in the flows file.
func SchemaByName(name string) (Schema, error) {
	switch name {
	case "", Generic.Name:
		return Generic, nil
	case RazorpayPaymentLink.Name, "razorpay":
		return RazorpayPaymentLink, nil
	case Any.Name:
		return Any, nil
	default:
		return Schema{}, fmt.Errorf("unknown redirect schema %q", name)
	}
}

// params returns every parameter name the schema recognizes.
func (s Schema) params() []string {
	var all []string
	for _, group := range [][]string{
		s.StatusParams, s.ReferenceParams, s.ItemParams, s.ReasonParams,
		s.SignatureParams, s.LinkIDParams, s.LinkRefParams,
	} {
		all = appendUnique(all, group...)
	}
	return all
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
