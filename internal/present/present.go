// Package present turns a reconciliation verdict into the post-purchase view
// the storefront shows after returning from the payment page.
package present

import (
	"fmt"
	"net/url"

	"storefront/internal/domain"
	"storefront/internal/reconcile"
)

const (
	StateSuccess   = "success"
	StateFailure   = "failure"
	StateAmbiguous = "ambiguous"
)

const (
	ActionDownload = "download"
	ActionRetry    = "retry"
	ActionContact  = "contact"
	ActionDismiss  = "dismiss"
)

type Action struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

type ItemView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price,omitempty"`
}

// View is exactly one of the three post-purchase states. ReturnURL is the
// clean page the shopper lands on when the view is dismissed.
type View struct {
	State        string    `json:"state"`
	Flow         string    `json:"flow"`
	Headline     string    `json:"headline"`
	Message      string    `json:"message"`
	Item         *ItemView `json:"item,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	Actions      []Action  `json:"actions"`
	ReturnURL    string    `json:"return_url"`
	SupportEmail string    `json:"support_email,omitempty"`
}

const DefaultCurrency = "₹"

type Presenter struct {
	SupportEmail string
	// Currency is the symbol prices are shown with; DefaultCurrency when empty.
	Currency string
}

// Present renders res for flow. Unknown verdict kinds render as ambiguous,
// so nothing short of a Success is ever worded as a completed purchase.
func (p Presenter) Present(flow string, res reconcile.Result) View {
	v := View{
		Flow:         flow,
		Reference:    shortRef(res.Fingerprint),
		ReturnURL:    res.ReplaceURL,
		SupportEmail: p.SupportEmail,
	}

	switch res.Verdict.Kind {
	case domain.VerdictSuccess:
		if res.Verdict.Item == nil {
			p.ambiguous(&v, domain.ReasonIdentityUnknown)
			break
		}
		p.success(&v, *res.Verdict.Item)
	case domain.VerdictFailure:
		p.failure(&v, res.Verdict.Reason)
	default:
		p.ambiguous(&v, res.Verdict.Reason)
	}

	v.Actions = append(v.Actions, Action{Kind: ActionDismiss, Label: "Back to store", URL: v.ReturnURL})
	return v
}

func (p Presenter) success(v *View, item domain.CatalogItem) {
	v.State = StateSuccess
	v.Headline = "Thank you for your purchase!"
	v.Item = &ItemView{ID: item.ID, Title: item.Title}
	if item.Price > 0 {
		cur := p.Currency
		if cur == "" {
			cur = DefaultCurrency
		}
		v.Item.Price = item.Price.Display(cur)
	}

	title := item.Title
	if title == "" {
		title = item.ID
	}
	if item.DownloadURL == "" {
		v.Message = fmt.Sprintf("Your payment for %s is confirmed.", title)
		if c, ok := p.contact(v.Reference); ok {
			v.Message += " Contact us if you do not receive access shortly."
			v.Actions = append(v.Actions, c)
		}
		return
	}
	v.Message = fmt.Sprintf("Your payment for %s is confirmed and your download is ready.", title)
	v.Actions = append(v.Actions, Action{Kind: ActionDownload, Label: "Download", URL: item.DownloadURL})
}

func (p Presenter) failure(v *View, reason string) {
	v.State = StateFailure
	v.Headline = "Payment not completed"
	v.Reason = reason
	v.Message = fmt.Sprintf("The payment provider reported: %s. You can try again or contact us for help.", reason)
	v.Actions = append(v.Actions, Action{Kind: ActionRetry, Label: "Try again", URL: v.ReturnURL})
	if c, ok := p.contact(v.Reference); ok {
		v.Actions = append(v.Actions, c)
	}
}

func (p Presenter) ambiguous(v *View, reason string) {
	v.State = StateAmbiguous
	v.Headline = "We're confirming your payment"
	v.Reason = reason
	v.Message = "Your payment is being confirmed. If your purchase does not appear shortly, contact us with the reference below and we will sort it out."
	if c, ok := p.contact(v.Reference); ok {
		v.Actions = append(v.Actions, c)
	}
}

func (p Presenter) contact(ref string) (Action, bool) {
	if p.SupportEmail == "" {
		return Action{}, false
	}
	subject := "Purchase help"
	if ref != "" {
		subject += " " + ref
	}
	return Action{
		Kind:  ActionContact,
		Label: "Contact support",
		URL:   "mailto:" + p.SupportEmail + "?subject=" + url.PathEscape(subject),
	}, true
}

func shortRef(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
