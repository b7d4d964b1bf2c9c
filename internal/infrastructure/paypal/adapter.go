// Package paypal adapts the card/wallet settlement rail. Initiate creates a
// remote order mirroring the priced descriptor; Verify captures funds for an
// approved order and relays the captured amount and currency verbatim for the
// fulfillment engine to compare against the local ledger.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
)

var ErrSchema = errors.New("paypal: unexpected processor payload")

// ascensionLineName labels the single synthetic line that collapses every
// ascended item into one processor-visible entry.
const ascensionLineName = "Ascension"

// Config carries processor credentials and order presentation settings.
type Config struct {
	BaseURL       string
	ClientID      string
	Secret        string
	Currency      string
	BrandName     string
	Description   string
	AscensionCost decimal.Decimal
}

type Adapter struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type lineItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	UnitAmount  unitAmount `json:"unit_amount"`
	Quantity    string     `json:"quantity"`
	Category    string     `json:"category"`
}

type unitAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Initiate creates a remote processor order for the local order's total, with
// one line per confirmed service and a single synthetic line for ascension.
// The local order id travels as the purchase unit's reference id so the
// capture can be matched back to the ledger.
func (a *Adapter) Initiate(ctx context.Context, o *order.Order) (*payment.Handle, error) {
	items := make([]lineItem, 0, len(o.Details.ConfirmedServices)+1)
	for _, service := range o.Details.ConfirmedServices {
		name := serviceName(service.Offer.Metadata)
		items = append(items, lineItem{
			Name:        fmt.Sprintf("%d x %s", service.PurchasedAmount, name),
			Description: truncate(serviceDescription(service.Offer.Metadata), 127),
			UnitAmount: unitAmount{
				CurrencyCode: a.cfg.Currency,
				Value:        service.Offer.Price.StringFixed(2),
			},
			Quantity: fmt.Sprintf("%d", service.PurchasedAmount),
			Category: "DIGITAL_GOODS",
		})
	}
	if count := len(o.Details.AscensionItems); count > 0 {
		items = append(items, lineItem{
			Name:        fmt.Sprintf("%d x %s", count, ascensionLineName),
			Description: truncate(a.cfg.Description, 127),
			UnitAmount: unitAmount{
				CurrencyCode: a.cfg.Currency,
				Value:        a.cfg.AscensionCost.StringFixed(2),
			},
			Quantity: fmt.Sprintf("%d", count),
			Category: "DIGITAL_GOODS",
		})
	}

	total := o.TotalCost.StringFixed(2)
	body := map[string]any{
		"intent": "CAPTURE",
		"application_context": map[string]any{
			"brand_name": a.cfg.BrandName,
		},
		"purchase_units": []map[string]any{{
			"reference_id": o.ID,
			"description":  a.cfg.Description,
			"amount": map[string]any{
				"currency_code": a.cfg.Currency,
				"value":         total,
				"breakdown": map[string]any{
					"item_total": map[string]any{
						"currency_code": a.cfg.Currency,
						"value":         total,
					},
				},
			},
			"items": items,
		}},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := a.post(ctx, "/v2/checkout/orders", body, &resp); err != nil {
		return nil, fmt.Errorf("%w: create order: %w", payment.ErrInit, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: create order response missing id", payment.ErrInit)
	}

	return &payment.Handle{
		Method:          order.MethodPayPal,
		ExternalOrderID: resp.ID,
	}, nil
}

// Verify captures funds for an approved processor order. The returned amount,
// currency, and status are exactly what the processor reported; deciding
// whether they cover the local order is the caller's job.
func (a *Adapter) Verify(ctx context.Context, externalOrderID string) (*payment.Verification, error) {
	if externalOrderID == "" {
		return nil, fmt.Errorf("%w: external order id is required", payment.ErrVerify)
	}

	var capture struct {
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			Payments    struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}

	raw, err := a.postRaw(ctx, "/v2/checkout/orders/"+url.PathEscape(externalOrderID)+"/capture", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("%w: capture: %w", payment.ErrVerify, err)
	}
	if err := json.Unmarshal(raw, &capture); err != nil {
		return nil, fmt.Errorf("%w: capture: %w", payment.ErrVerify, ErrSchema)
	}
	if len(capture.PurchaseUnits) == 0 || len(capture.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, fmt.Errorf("%w: capture response missing purchase units", payment.ErrVerify)
	}

	unit := capture.PurchaseUnits[0]
	settled := unit.Payments.Captures[0]
	amount, err := decimal.NewFromString(settled.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: capture amount %q: %v", payment.ErrVerify, settled.Amount.Value, err)
	}

	return &payment.Verification{
		OrderID:  unit.ReferenceID,
		Amount:   amount,
		Currency: settled.Amount.CurrencyCode,
		Status:   settled.Status,
		Evidence: raw,
	}, nil
}

func (a *Adapter) post(ctx context.Context, path string, body, out any) error {
	raw, err := a.postRaw(ctx, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

func (a *Adapter) postRaw(ctx context.Context, path string, body any) (json.RawMessage, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("paypal: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Prefer", "return=representation")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("paypal: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("paypal: %s: status %d: %s", path, resp.StatusCode, truncate(string(raw), 256))
	}
	return raw, nil
}

// token returns a cached client-credentials access token, refreshing it when
// within a minute of expiry.
func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry.Add(-time.Minute)) {
		return a.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: token request: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: token response: %v", ErrSchema, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrSchema)
	}

	a.accessToken = body.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return a.accessToken, nil
}

func serviceName(metadata json.RawMessage) string {
	return metadataField(metadata, "name")
}

func serviceDescription(metadata json.RawMessage) string {
	return metadataField(metadata, "description")
}

func metadataField(metadata json.RawMessage, field string) string {
	var fields map[string]any
	if err := json.Unmarshal(metadata, &fields); err != nil {
		return ""
	}
	if value, ok := fields[field].(string); ok {
		return value
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ payment.Adapter = (*Adapter)(nil)
