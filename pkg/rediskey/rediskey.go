package rediskey

import "fmt"

const (
	WebhookDedupPrefix = "webhook:dedup"
	ReferralLinkPrefix = "referral:link"
	PromoCodeSequence  = "seq:promo"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildWebhookDedupKey returns "webhook:dedup:{documentID}_{operation}"
func BuildWebhookDedupKey(eventKey string) string {
	return NamespaceKey(WebhookDedupPrefix, eventKey)
}

// BuildReferralLinkKey returns "referral:link:{token}"
func BuildReferralLinkKey(token string) string {
	return NamespaceKey(ReferralLinkPrefix, token)
}
