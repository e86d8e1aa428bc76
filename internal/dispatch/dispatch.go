package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// Provider is the closed set of upstream SMM panels orders can be
// placed with.
type Provider string

const (
	ProviderJAP      Provider = "jap"
	ProviderSMMFlare Provider = "smmflare"
)

// Credentials hold the per-provider API surface.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// TierKey identifies one storefront price point.
type TierKey struct {
	Service     string
	AmountMinor int64
}

// Tier maps a price point to the provider service that fulfills it.
type Tier struct {
	Provider  Provider
	ServiceID int
	Quantity  int
}

// DefaultTiers mirrors the storefront pack catalog: declared link type
// plus exact price resolves to one provider service tier.
var DefaultTiers = map[TierKey]Tier{
	{"ig_followers", 4500}:    {ProviderJAP, 3740, 500},
	{"ig_followers", 8500}:    {ProviderJAP, 3740, 1000},
	{"ig_followers", 19900}:   {ProviderJAP, 3740, 2500},
	{"ig_likes", 1900}:        {ProviderSMMFlare, 1112, 500},
	{"ig_likes", 3500}:        {ProviderSMMFlare, 1112, 1000},
	{"ig_views", 999}:         {ProviderSMMFlare, 1310, 1000},
	{"ig_views", 2500}:        {ProviderSMMFlare, 1310, 5000},
	{"yt_views", 9900}:        {ProviderJAP, 2214, 1000},
	{"yt_subscribers", 14900}: {ProviderJAP, 2310, 100},
}

// Outcome is what the dispatcher reports back to the register. Dispatch
// never returns an error: a funded order stays funded whatever happens
// upstream, and failures carry a reason for the operator instead.
type Outcome struct {
	OK              bool
	Provider        Provider
	ServiceID       int
	Quantity        int
	ProviderOrderID string
	Reason          string
}

// Dispatcher places funded orders with the matching SMM panel.
type Dispatcher struct {
	creds map[Provider]Credentials
	tiers map[TierKey]Tier
}

// New builds a Dispatcher. A nil tiers map selects DefaultTiers.
func New(creds map[Provider]Credentials, tiers map[TierKey]Tier) *Dispatcher {
	if tiers == nil {
		tiers = DefaultTiers
	}
	return &Dispatcher{creds: creds, tiers: tiers}
}

type panelAddResponse struct {
	Order json.Number `json:"order"`
	Error string      `json:"error"`
}

// Dispatch resolves the order's tier and calls the provider's add-order
// API. Any network error or a response without an order id is a
// failure outcome, never a propagated error.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order) Outcome {
	tier, ok := d.tiers[TierKey{Service: order.ServiceDescriptor, AmountMinor: order.RequestedAmountMinor}]
	if !ok {
		return Outcome{Reason: "no matching service tier"}
	}

	creds, ok := d.creds[tier.Provider]
	if !ok || creds.APIKey == "" || creds.BaseURL == "" {
		return Outcome{Provider: tier.Provider, Reason: fmt.Sprintf("provider %s not configured", tier.Provider)}
	}

	quantity := tier.Quantity
	if order.Quantity > 0 {
		quantity = order.Quantity
	}

	form := url.Values{}
	form.Set("key", creds.APIKey)
	form.Set("action", "add")
	form.Set("service", strconv.Itoa(tier.ServiceID))
	form.Set("link", order.Link)
	form.Set("quantity", strconv.Itoa(quantity))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{Provider: tier.Provider, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Printf("[Dispatch] %s call failed for order %s: %v", tier.Provider, order.OrderID, err)
		return Outcome{Provider: tier.Provider, Reason: fmt.Sprintf("provider call failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Provider: tier.Provider, Reason: fmt.Sprintf("read provider response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Provider: tier.Provider, Reason: fmt.Sprintf("provider status %d", resp.StatusCode)}
	}

	var parsed panelAddResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Outcome{Provider: tier.Provider, Reason: fmt.Sprintf("bad provider response: %v", err)}
	}
	if parsed.Order.String() == "" {
		reason := parsed.Error
		if reason == "" {
			reason = "provider response missing order id"
		}
		return Outcome{Provider: tier.Provider, Reason: reason}
	}

	return Outcome{
		OK:              true,
		Provider:        tier.Provider,
		ServiceID:       tier.ServiceID,
		Quantity:        quantity,
		ProviderOrderID: parsed.Order.String(),
	}
}
