package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"stupify/pkg/domain"
)

const whsec = "whsec_test"

func newTestClient(t *testing.T, apiURL string) *Client {
	t.Helper()
	c, err := New(Config{
		SecretKey:       "sk_test_123",
		WebhookSecret:   whsec,
		StarterPriceID:  "price_starter",
		PremiumPriceID:  "price_premium",
		SuccessURL:      "https://stupify.test/billing/success",
		CancelURL:       "https://stupify.test/billing/cancel",
		PortalReturnURL: "https://stupify.test/account",
		APIURL:          apiURL,
	})
	if err != nil {
		t.Fatalf("new billing client: %v", err)
	}
	return c
}

func TestNewRequiresSecrets(t *testing.T) {
	if _, err := New(Config{WebhookSecret: whsec}); err == nil {
		t.Fatalf("expected missing secret key to fail")
	}
	if _, err := New(Config{SecretKey: "sk"}); err == nil {
		t.Fatalf("expected missing webhook secret to fail")
	}
}

func TestCheckoutURLPostsSubscriptionSession(t *testing.T) {
	var (
		mu   sync.Mutex
		form map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		mu.Lock()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	url, err := c.CheckoutURL(context.Background(), domain.Profile{ID: "user-1", Email: "kid@example.com"}, domain.TierPremium)
	if err != nil {
		t.Fatalf("checkout url: %v", err)
	}
	if url != "https://checkout.stripe.test/cs_test_1" {
		t.Fatalf("url = %q", url)
	}
	mu.Lock()
	defer mu.Unlock()
	checks := []struct{ key, want string }{
		{"mode", "subscription"},
		{"client_reference_id", "user-1"},
		{"customer_email", "kid@example.com"},
		{"line_items[0][price]", "price_premium"},
		{"metadata[tier]", "premium"},
		{"metadata[user_id]", "user-1"},
	}
	for _, c := range checks {
		if form[c.key] != c.want {
			t.Fatalf("form[%s] = %q, want %q", c.key, form[c.key], c.want)
		}
	}
}

func TestCheckoutURLRejectsBadTier(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if _, err := c.CheckoutURL(context.Background(), domain.Profile{ID: "u"}, domain.TierFree); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
	c.cfg.StarterPriceID = ""
	if _, err := c.CheckoutURL(context.Background(), domain.Profile{ID: "u"}, domain.TierStarter); !errors.Is(err, ErrPriceNotConfigured) {
		t.Fatalf("expected ErrPriceNotConfigured, got %v", err)
	}
}

func TestPortalURLRequiresCustomer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/billing_portal/sessions" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("customer") != "cus_1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.test/p/1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.PortalURL(context.Background(), domain.Profile{ID: "u"}); !errors.Is(err, ErrNoCustomer) {
		t.Fatalf("expected ErrNoCustomer, got %v", err)
	}
	url, err := c.PortalURL(context.Background(), domain.Profile{ID: "u", StripeCustomerID: "cus_1"})
	if err != nil || url != "https://billing.stripe.test/p/1" {
		t.Fatalf("portal url = %q, %v", url, err)
	}
}

func sign(payload string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    whsec,
		Timestamp: time.Now(),
	}).Header
}

func parseAndInterpret(t *testing.T, c *Client, payload string) Update {
	t.Helper()
	event, err := c.ParseWebhook([]byte(payload), sign(payload))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	u, err := c.Interpret(event)
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	return u
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	c := newTestClient(t, "")
	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`
	if _, err := c.ParseWebhook([]byte(payload), "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestInterpretCheckoutCompleted(t *testing.T) {
	c := newTestClient(t, "")
	u := parseAndInterpret(t, c, `{"id":"evt_1","type":"checkout.session.completed","api_version":"2020-08-27","data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"user-1","customer":"cus_1","subscription":"sub_1","metadata":{"tier":"starter","user_id":"user-1"}}}}`)
	if !u.Handled || u.UserID != "user-1" || u.CustomerID != "cus_1" || u.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected update: %+v", u)
	}
	if u.Tier != domain.TierStarter || u.Status != domain.SubscriptionActive {
		t.Fatalf("unexpected tier/status: %+v", u)
	}
}

func TestInterpretSubscriptionLifecycle(t *testing.T) {
	c := newTestClient(t, "")
	updated := parseAndInterpret(t, c, `{"id":"evt_2","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active","current_period_end":1790000000,"metadata":{"user_id":"user-1"},"items":{"object":"list","data":[{"id":"si_1","price":{"id":"price_premium"}}]}}}}`)
	if updated.Tier != domain.TierPremium || updated.Status != domain.SubscriptionActive || updated.UserID != "user-1" {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if updated.CurrentPeriodEnd == nil || updated.CurrentPeriodEnd.Unix() != 1790000000 {
		t.Fatalf("period end = %v", updated.CurrentPeriodEnd)
	}

	unpaid := parseAndInterpret(t, c, `{"id":"evt_3","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"unpaid"}}}`)
	if unpaid.Tier != domain.TierFree {
		t.Fatalf("unpaid subscription should drop to free: %+v", unpaid)
	}

	deleted := parseAndInterpret(t, c, `{"id":"evt_4","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled"}}}`)
	if deleted.Tier != domain.TierFree || deleted.Status != domain.SubscriptionCanceled || deleted.CustomerID != "cus_1" {
		t.Fatalf("unexpected delete update: %+v", deleted)
	}

	failed := parseAndInterpret(t, c, `{"id":"evt_5","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","customer":"cus_1","subscription":"sub_1"}}}`)
	if failed.Status != domain.SubscriptionPastDue || failed.Tier != "" {
		t.Fatalf("unexpected payment failure update: %+v", failed)
	}

	ignored := parseAndInterpret(t, c, `{"id":"evt_6","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)
	if ignored.Handled {
		t.Fatalf("unknown event should not be handled")
	}
}

func TestApplyMergesNonEmptyFields(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := domain.Profile{ID: "user-1", Tier: domain.TierStarter, StripeCustomerID: "cus_1"}
	p = Apply(p, Update{Status: domain.SubscriptionPastDue}, now)
	if p.Tier != domain.TierStarter || p.SubscriptionStatus != domain.SubscriptionPastDue || p.StripeCustomerID != "cus_1" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	p = Apply(p, Update{Tier: domain.TierFree, Status: domain.SubscriptionCanceled}, now)
	if p.Tier != domain.TierFree || !p.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestTierForPrice(t *testing.T) {
	c := newTestClient(t, "")
	if tier, ok := c.TierForPrice("price_starter"); !ok || tier != domain.TierStarter {
		t.Fatalf("starter price mapped to %q %v", tier, ok)
	}
	if _, ok := c.TierForPrice(""); ok {
		t.Fatalf("empty price should not map")
	}
	if _, ok := c.TierForPrice(strings.ToUpper("price_starter")); ok {
		t.Fatalf("price ids are case sensitive")
	}
}
