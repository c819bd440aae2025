// Package billing wraps the Stripe checkout, portal and webhook flows.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"stupify/pkg/domain"
)

var (
	ErrInvalidTier        = errors.New("tier is not purchasable")
	ErrPriceNotConfigured = errors.New("no stripe price configured for tier")
	ErrNoCustomer         = errors.New("user has no stripe customer")
	ErrInvalidSignature   = errors.New("invalid stripe webhook signature")
)

// Config holds Stripe credentials, price ids and redirect URLs.
type Config struct {
	SecretKey       string
	WebhookSecret   string
	StarterPriceID  string
	PremiumPriceID  string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	// APIURL overrides the Stripe API base, e.g. for stripe-mock.
	APIURL string
}

// Client creates Stripe sessions and interprets webhook events.
type Client struct {
	cfg      Config
	checkout checkoutsession.Client
	portal   portalsession.Client
}

// New builds a billing client.
func New(cfg Config) (*Client, error) {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe webhook secret required")
	}
	var backend stripe.Backend
	if url := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"); url != "" {
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(url),
			MaxNetworkRetries: stripe.Int64(0),
		})
	} else {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &Client{
		cfg:      cfg,
		checkout: checkoutsession.Client{B: backend, Key: cfg.SecretKey},
		portal:   portalsession.Client{B: backend, Key: cfg.SecretKey},
	}, nil
}

// PriceFor returns the configured price id of a paid tier.
func (c *Client) PriceFor(tier domain.Tier) (string, error) {
	var price string
	switch tier {
	case domain.TierStarter:
		price = c.cfg.StarterPriceID
	case domain.TierPremium:
		price = c.cfg.PremiumPriceID
	default:
		return "", ErrInvalidTier
	}
	if strings.TrimSpace(price) == "" {
		return "", ErrPriceNotConfigured
	}
	return price, nil
}

// TierForPrice maps a Stripe price id back to a tier.
func (c *Client) TierForPrice(priceID string) (domain.Tier, bool) {
	switch {
	case priceID == "":
		return "", false
	case priceID == c.cfg.StarterPriceID:
		return domain.TierStarter, true
	case priceID == c.cfg.PremiumPriceID:
		return domain.TierPremium, true
	default:
		return "", false
	}
}

// CheckoutURL starts a subscription checkout for tier and returns the
// hosted page URL.
func (c *Client) CheckoutURL(ctx context.Context, profile domain.Profile, tier domain.Tier) (string, error) {
	price, err := c.PriceFor(tier)
	if err != nil {
		return "", err
	}
	meta := map[string]string{"user_id": profile.ID, "tier": string(tier)}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(profile.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		Metadata:         meta,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
	}
	params.Context = ctx
	if profile.StripeCustomerID != "" {
		params.Customer = stripe.String(profile.StripeCustomerID)
	} else if profile.Email != "" {
		params.CustomerEmail = stripe.String(profile.Email)
	}
	session, err := c.checkout.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return session.URL, nil
}

// PortalURL opens a billing portal session for the profile's customer.
func (c *Client) PortalURL(ctx context.Context, profile domain.Profile) (string, error) {
	if profile.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(profile.StripeCustomerID),
		ReturnURL: stripe.String(c.cfg.PortalReturnURL),
	}
	params.Context = ctx
	session, err := c.portal.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return session.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// Update is the profile change implied by a webhook event.
type Update struct {
	EventType        string
	Handled          bool
	UserID           string
	CustomerID       string
	SubscriptionID   string
	Tier             domain.Tier
	Status           domain.SubscriptionStatus
	CurrentPeriodEnd *time.Time
}

// Interpret maps a webhook event onto an Update. Unknown event types
// return an Update with Handled false.
func (c *Client) Interpret(event stripe.Event) (Update, error) {
	u := Update{EventType: string(event.Type)}
	if event.Data == nil {
		return u, nil
	}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return u, fmt.Errorf("decode checkout session: %w", err)
		}
		u.Handled = true
		u.UserID = firstNonEmpty(s.ClientReferenceID, s.Metadata["user_id"])
		if s.Customer != nil {
			u.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			u.SubscriptionID = s.Subscription.ID
		}
		if tier, ok := domain.ParseTier(s.Metadata["tier"]); ok && tier != domain.TierFree {
			u.Tier = tier
		}
		u.Status = domain.SubscriptionActive
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return u, fmt.Errorf("decode subscription: %w", err)
		}
		u.Handled = true
		c.fillSubscription(&u, &sub)
		u.Status = domain.SubscriptionStatus(sub.Status)
		switch sub.Status {
		case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
			if tier, ok := c.tierOf(&sub); ok {
				u.Tier = tier
			}
		case stripe.SubscriptionStatusPastDue:
		default:
			u.Tier = domain.TierFree
		}
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return u, fmt.Errorf("decode subscription: %w", err)
		}
		u.Handled = true
		c.fillSubscription(&u, &sub)
		u.Tier = domain.TierFree
		u.Status = domain.SubscriptionCanceled
	case stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return u, fmt.Errorf("decode invoice: %w", err)
		}
		u.Handled = true
		if inv.Customer != nil {
			u.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			u.SubscriptionID = inv.Subscription.ID
		}
		u.Status = domain.SubscriptionPastDue
	}
	return u, nil
}

func (c *Client) fillSubscription(u *Update, sub *stripe.Subscription) {
	u.SubscriptionID = sub.ID
	u.UserID = sub.Metadata["user_id"]
	if sub.Customer != nil {
		u.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		u.CurrentPeriodEnd = &end
	}
}

func (c *Client) tierOf(sub *stripe.Subscription) (domain.Tier, bool) {
	if sub.Items == nil {
		return "", false
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if tier, ok := c.TierForPrice(item.Price.ID); ok {
			return tier, true
		}
	}
	return "", false
}

// Apply folds an Update into a profile.
func Apply(p domain.Profile, u Update, now time.Time) domain.Profile {
	if u.CustomerID != "" {
		p.StripeCustomerID = u.CustomerID
	}
	if u.SubscriptionID != "" {
		p.StripeSubscriptionID = u.SubscriptionID
	}
	if u.Tier != "" {
		p.Tier = u.Tier
	}
	if u.Status != domain.SubscriptionNone {
		p.SubscriptionStatus = u.Status
	}
	if u.CurrentPeriodEnd != nil {
		p.CurrentPeriodEnd = u.CurrentPeriodEnd
	}
	p.UpdatedAt = now.UTC()
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
