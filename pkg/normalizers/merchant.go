package normalizers

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// emailServiceDomains are bulk-mail relays that send on behalf of many
// merchants. Their domain says nothing about who sold the order.
var emailServiceDomains = map[string]struct{}{
	"sendgrid.net":        {},
	"sendgrid.com":        {},
	"mailchimp.com":       {},
	"mcsv.net":            {},
	"mcdlv.net":           {},
	"mandrillapp.com":     {},
	"mailgun.org":         {},
	"mailgun.net":         {},
	"amazonses.com":       {},
	"sparkpostmail.com":   {},
	"klaviyomail.com":     {},
	"klaviyo.com":         {},
	"shopifyemail.com":    {},
	"shopify.com":         {},
	"postmarkapp.com":     {},
	"exacttarget.com":     {},
	"rsgsv.net":           {},
	"cmail19.com":         {},
	"cmail20.com":         {},
	"constantcontact.com": {},
	"gmail.com":           {},
	"outlook.com":         {},
	"yahoo.com":           {},
}

// NormalizeDomain lowercases a sender domain, strips any local part, scheme
// or trailing dot, and reduces it to its registrable domain
// ("orders.shop.example.co.uk" becomes "example.co.uk").
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexAny(d, "/:"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return ""
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		return d
	}
	return registrable
}

// IsEmailServiceDomain reports whether domain belongs to a generic
// email-service provider.
func IsEmailServiceDomain(domain string) bool {
	_, ok := emailServiceDomains[NormalizeDomain(domain)]
	return ok
}

// NormalizeMerchant returns the merchant component used in order keys and
// the merchant index. The display name replaces the domain when the domain is
// an email-service provider, so unrelated merchants sharing a relay do not
// collide. Returns "" when neither yields anything.
func NormalizeMerchant(domain, displayName string) string {
	d := NormalizeDomain(domain)
	name := strings.ReplaceAll(NormalizeName(displayName), " ", "-")

	if d == "" {
		return name
	}
	if name != "" && IsEmailServiceDomain(d) {
		return name
	}
	return d
}
