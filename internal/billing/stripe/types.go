package stripe

import "strings"

// CheckoutSession is a minimal representation of a Stripe checkout.session
// event. Only the fields reconciliation reads are decoded; everything else
// in the payload is ignored so SDK version drift cannot break the handler.
type CheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Email returns the best available billing email for the session.
func (s *CheckoutSession) Email() string {
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(s.CustomerEmail)
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	Lines         struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
			Price struct {
				ID        string `json:"id"`
				LookupKey string `json:"lookup_key"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// PeriodEnd returns the latest line-item period end, or 0 when absent.
func (i *Invoice) PeriodEnd() int64 {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}
