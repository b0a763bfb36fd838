// Package stripe implements the payment gateway contract against the Stripe
// REST API.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clearhaven/dunlin/internal/config"
	"github.com/clearhaven/dunlin/internal/gateway/domain"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

type Client struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	log           *zap.Logger

	// priceToPlan / planToPrice translate between catalog price ids and the
	// internal plan tiers.
	priceToPlan map[string]subscriptiondomain.Plan
	planToPrice map[subscriptiondomain.Plan]string
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	priceToPlan := map[string]subscriptiondomain.Plan{}
	planToPrice := map[subscriptiondomain.Plan]string{}
	if cfg.StripePriceStandard != "" {
		priceToPlan[cfg.StripePriceStandard] = subscriptiondomain.PlanStandard
		planToPrice[subscriptiondomain.PlanStandard] = cfg.StripePriceStandard
	}
	if cfg.StripePricePremium != "" {
		priceToPlan[cfg.StripePricePremium] = subscriptiondomain.PlanPremium
		planToPrice[subscriptiondomain.PlanPremium] = cfg.StripePricePremium
	}

	return &Client{
		apiKey:        cfg.StripeAPIKey,
		webhookSecret: cfg.StripeWebhookSecret,
		baseURL:       strings.TrimRight(cfg.StripeAPIBase, "/"),
		httpClient:    &http.Client{Timeout: requestTimeout},
		log:           log.Named("gateway.stripe"),
		priceToPlan:   priceToPlan,
		planToPrice:   planToPrice,
	}
}

type stripeCharge struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

type stripeSubscriptionList struct {
	Data []stripeSubscription `json:"data"`
}

type stripeSubscription struct {
	ID                string                   `json:"id"`
	Status            string                   `json:"status"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64                    `json:"current_period_end"`
	Items             stripeSubscriptionItems  `json:"items"`
	Schedule          *stripeSchedule          `json:"schedule"`
	DefaultPayment    *stripePaymentMethodType `json:"default_payment_method"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	ID    string      `json:"id"`
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSchedule struct {
	Phases []stripeSchedulePhase `json:"phases"`
}

type stripeSchedulePhase struct {
	Items []struct {
		Price string `json:"price"`
	} `json:"items"`
	StartDate int64 `json:"start_date"`
}

type stripePaymentMethodType struct {
	Card *stripeCard `json:"card"`
}

type stripeCard struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

type stripeChargeList struct {
	Data []stripeChargeDetail `json:"data"`
}

type stripeChargeDetail struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	Refunded   bool   `json:"refunded"`
	Created    int64  `json:"created"`
	ReceiptURL string `json:"receipt_url"`
}

type stripeCustomer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address *struct {
		Line1      string `json:"line1"`
		Line2      string `json:"line2"`
		City       string `json:"city"`
		PostalCode string `json:"postal_code"`
		Country    string `json:"country"`
	} `json:"address"`
	TaxIDs *struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	} `json:"tax_ids"`
}

type stripeSession struct {
	URL string `json:"url"`
}

func (c *Client) ResolveCustomerByCharge(ctx context.Context, chargeRef string) (string, error) {
	chargeRef = strings.TrimSpace(chargeRef)
	if chargeRef == "" {
		return "", nil
	}
	var charge stripeCharge
	if err := c.get(ctx, "/v1/charges/"+url.PathEscape(chargeRef), &charge); err != nil {
		if err == domain.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(charge.Customer), nil
}

// SyncSubscriptionState fetches the authoritative subscription snapshot for a
// customer. A nil result means the gateway has no live subscription and the
// local record must be treated as deleted.
func (c *Client) SyncSubscriptionState(ctx context.Context, customerRef string) (*domain.SyncState, error) {
	query := url.Values{}
	query.Set("customer", customerRef)
	query.Set("status", "all")
	query.Set("limit", "3")
	query.Add("expand[]", "data.default_payment_method")
	query.Add("expand[]", "data.schedule")

	var list stripeSubscriptionList
	if err := c.get(ctx, "/v1/subscriptions?"+query.Encode(), &list); err != nil {
		return nil, err
	}

	sub := pickLiveSubscription(list.Data)
	if sub == nil {
		return nil, nil
	}

	state := &domain.SyncState{
		Plan:              c.planForItems(sub.Items.Data),
		SubscriptionRef:   sub.ID,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		state.CurrentPeriodEnd = &end
	}
	if scheduled := c.scheduledPlan(sub); scheduled != nil && *scheduled != state.Plan {
		state.ScheduledPlan = scheduled
	}
	if sub.DefaultPayment != nil && sub.DefaultPayment.Card != nil {
		card := sub.DefaultPayment.Card
		state.PaymentMethod = &subscriptiondomain.PaymentMethod{
			Brand:       card.Brand,
			Last4:       card.Last4,
			ExpiryMonth: card.ExpMonth,
			ExpiryYear:  card.ExpYear,
		}
	}

	transactions, err := c.listCharges(ctx, customerRef)
	if err != nil {
		return nil, err
	}
	state.Transactions = transactions

	return state, nil
}

func (c *Client) GetBillingInfo(ctx context.Context, customerRef string) (*subscriptiondomain.BillingInfo, error) {
	query := url.Values{}
	query.Add("expand[]", "tax_ids")

	var customer stripeCustomer
	path := "/v1/customers/" + url.PathEscape(customerRef) + "?" + query.Encode()
	if err := c.get(ctx, path, &customer); err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	info := &subscriptiondomain.BillingInfo{
		Name:  strings.TrimSpace(customer.Name),
		Email: strings.TrimSpace(customer.Email),
	}
	if customer.Address != nil {
		parts := []string{}
		for _, p := range []string{customer.Address.Line1, customer.Address.Line2, customer.Address.PostalCode, customer.Address.City, customer.Address.Country} {
			if strings.TrimSpace(p) != "" {
				parts = append(parts, strings.TrimSpace(p))
			}
		}
		info.Address = strings.Join(parts, ", ")
	}
	if customer.TaxIDs != nil && len(customer.TaxIDs.Data) > 0 {
		info.TaxID = strings.TrimSpace(customer.TaxIDs.Data[0].Value)
	}
	return info, nil
}

func (c *Client) UpgradePlan(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error {
	price, ok := c.planToPrice[target]
	if !ok {
		return domain.ErrNotFound
	}

	item, err := c.firstItemID(ctx, subscriptionRef)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("items[0][id]", item)
	form.Set("items[0][price]", price)
	form.Set("proration_behavior", "always_invoice")
	return c.postForm(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), form, nil)
}

// ScheduleDowngrade books the lower plan for period end instead of applying
// it immediately. Local state picks it up on the next reconcile.
func (c *Client) ScheduleDowngrade(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error {
	price, ok := c.planToPrice[target]
	if !ok {
		return domain.ErrNotFound
	}

	item, err := c.firstItemID(ctx, subscriptionRef)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("items[0][id]", item)
	form.Set("items[0][price]", price)
	form.Set("proration_behavior", "none")
	form.Set("billing_cycle_anchor", "unchanged")
	return c.postForm(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), form, nil)
}

func (c *Client) CancelScheduledDowngrade(ctx context.Context, subscriptionRef string) error {
	form := url.Values{}
	form.Set("schedule", "")
	return c.postForm(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), form, nil)
}

func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error {
	form := url.Values{}
	if cancel {
		form.Set("cancel_at_period_end", "true")
	} else {
		form.Set("cancel_at_period_end", "false")
	}
	return c.postForm(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), form, nil)
}

func (c *Client) Reactivate(ctx context.Context, subscriptionRef string) error {
	return c.SetCancelAtPeriodEnd(ctx, subscriptionRef, false)
}

func (c *Client) CreateCheckoutSession(ctx context.Context, customerRef string, target subscriptiondomain.Plan) (string, error) {
	price, ok := c.planToPrice[target]
	if !ok {
		return "", domain.ErrNotFound
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", customerRef)
	form.Set("line_items[0][price]", price)
	form.Set("line_items[0][quantity]", "1")

	var session stripeSession
	if err := c.postForm(ctx, "/v1/checkout/sessions", form, &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerRef string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerRef)

	var session stripeSession
	if err := c.postForm(ctx, "/v1/billing_portal/sessions", form, &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

func (c *Client) listCharges(ctx context.Context, customerRef string) ([]subscriptiondomain.PaymentTransaction, error) {
	query := url.Values{}
	query.Set("customer", customerRef)
	query.Set("limit", "25")

	var list stripeChargeList
	if err := c.get(ctx, "/v1/charges?"+query.Encode(), &list); err != nil {
		return nil, err
	}

	transactions := make([]subscriptiondomain.PaymentTransaction, 0, len(list.Data))
	for _, charge := range list.Data {
		status := charge.Status
		if charge.Refunded {
			status = "refunded"
		}
		transactions = append(transactions, subscriptiondomain.PaymentTransaction{
			ExternalRef: charge.ID,
			Amount:      charge.Amount,
			Currency:    strings.ToUpper(strings.TrimSpace(charge.Currency)),
			Status:      status,
			OccurredAt:  time.Unix(charge.Created, 0).UTC(),
			ReceiptURL:  charge.ReceiptURL,
		})
	}
	return transactions, nil
}

func (c *Client) firstItemID(ctx context.Context, subscriptionRef string) (string, error) {
	var sub stripeSubscription
	if err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), &sub); err != nil {
		return "", err
	}
	if len(sub.Items.Data) == 0 {
		return "", domain.ErrNotFound
	}
	return sub.Items.Data[0].ID, nil
}

func (c *Client) planForItems(items []stripeSubscriptionItem) subscriptiondomain.Plan {
	for _, item := range items {
		if plan, ok := c.priceToPlan[item.Price.ID]; ok {
			return plan
		}
	}
	return subscriptiondomain.PlanBasis
}

func (c *Client) scheduledPlan(sub *stripeSubscription) *subscriptiondomain.Plan {
	if sub.Schedule == nil || len(sub.Schedule.Phases) == 0 {
		return nil
	}
	last := sub.Schedule.Phases[len(sub.Schedule.Phases)-1]
	for _, item := range last.Items {
		if plan, ok := c.priceToPlan[item.Price]; ok {
			return &plan
		}
	}
	return nil
}

// pickLiveSubscription prefers an active or past_due subscription; anything
// canceled counts as gone.
func pickLiveSubscription(subs []stripeSubscription) *stripeSubscription {
	for i := range subs {
		switch subs[i].Status {
		case "active", "past_due", "trialing", "unpaid":
			return &subs[i]
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("gateway request failed", zap.String("path", req.URL.Path), zap.Error(err))
		return domain.ErrUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ErrUnavailable
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warn("gateway returned retryable status",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return domain.ErrUnavailable
	case resp.StatusCode >= 400:
		return fmt.Errorf("gateway request rejected: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}
