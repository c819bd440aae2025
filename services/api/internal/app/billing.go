package app

import (
	"context"
	"errors"
	"fmt"

	"stupify/internal/util"
	"stupify/pkg/billing"
	"stupify/pkg/domain"
	"stupify/pkg/store"
)

// Checkout returns a Stripe Checkout URL for upgrading to tier.
func (a *App) Checkout(ctx context.Context, userID, email string, tier domain.Tier) (string, error) {
	if a.billing == nil {
		return "", ErrBillingDisabled
	}
	profile, err := a.store.EnsureProfile(ctx, userID, email)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	url, err := a.billing.CheckoutURL(ctx, profile, tier)
	if err != nil {
		return "", err
	}
	a.recordEvent(ctx, userID, "checkout_started", map[string]any{"tier": string(tier)})
	return url, nil
}

// Portal returns a Stripe Billing Portal URL for managing the subscription.
func (a *App) Portal(ctx context.Context, userID, email string) (string, error) {
	if a.billing == nil {
		return "", ErrBillingDisabled
	}
	profile, err := a.store.EnsureProfile(ctx, userID, email)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	return a.billing.PortalURL(ctx, profile)
}

// HandleStripeWebhook verifies and applies one Stripe event. Events that
// do not concern a known user are acknowledged and ignored.
func (a *App) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	if a.billing == nil {
		return ErrBillingDisabled
	}
	event, err := a.billing.ParseWebhook(payload, signature)
	if err != nil {
		a.countWebhook("unknown", "invalid")
		return err
	}
	eventType := string(event.Type)
	update, err := a.billing.Interpret(event)
	if err != nil {
		a.countWebhook(eventType, "error")
		return fmt.Errorf("interpret %s: %w", eventType, err)
	}
	logger := util.LoggerFromContext(ctx).With("stripe_event", event.ID, "type", eventType)
	if !update.Handled {
		a.countWebhook(eventType, "ignored")
		return nil
	}

	profile, err := a.webhookProfile(ctx, update)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("stripe event for unknown user", "user_id", update.UserID, "customer", update.CustomerID)
		a.countWebhook(eventType, "unmatched")
		return nil
	}
	if err != nil {
		a.countWebhook(eventType, "error")
		return err
	}
	before := profile.Tier
	profile = billing.Apply(profile, update, a.now())
	if err := a.store.SaveProfile(ctx, profile); err != nil {
		a.countWebhook(eventType, "error")
		return fmt.Errorf("save profile: %w", err)
	}
	a.countWebhook(eventType, "applied")
	logger.Info("subscription updated", "user_id", profile.ID, "tier", profile.Tier, "status", profile.SubscriptionStatus)
	if before != profile.Tier {
		a.recordEvent(ctx, profile.ID, "tier_changed", map[string]any{"from": string(before), "to": string(profile.Tier)})
	}
	return nil
}

func (a *App) webhookProfile(ctx context.Context, u billing.Update) (domain.Profile, error) {
	if u.UserID != "" {
		profile, err := a.store.GetProfile(ctx, u.UserID)
		if err == nil || !errors.Is(err, store.ErrNotFound) || u.CustomerID == "" {
			return profile, err
		}
	}
	if u.CustomerID == "" {
		return domain.Profile{}, store.ErrNotFound
	}
	return a.store.GetProfileByStripeCustomer(ctx, u.CustomerID)
}

func (a *App) countWebhook(eventType, result string) {
	if a.metrics != nil {
		a.metrics.WebhookEvents.WithLabelValues(eventType, result).Inc()
	}
}
