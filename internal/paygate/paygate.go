package paygate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mrsonukr/instaguruv2-sub000/internal/configstore"
	"github.com/mrsonukr/instaguruv2-sub000/internal/ledger"
	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
)

var (
	// ErrUpstreamAuth means the aggregator rejected our credential; the
	// bearer token needs rotation.
	ErrUpstreamAuth = errors.New("aggregator credential rejected")
	// ErrUpstreamUnavailable covers every other non-success response.
	ErrUpstreamUnavailable = errors.New("aggregator unavailable")
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// MinorUnits converts a major-unit amount (rupees) to paise. Rounding,
// not truncation, so float noise from upstream JSON cannot shift the
// amount by one paisa.
func MinorUnits(major float64) int64 {
	return int64(math.Round(major * 100))
}

// Client polls the aggregator's recent-transactions API. The bearer
// token lives in the config store so an operator can rotate it without
// a restart; the merchant id is fixed per deployment.
type Client struct {
	baseURL    string
	merchantID string
	tokenEnv   string
	config     *configstore.Store
	ledger     *ledger.Ledger
}

func NewClient(baseURL, merchantID, tokenEnv string, config *configstore.Store, ldg *ledger.Ledger) *Client {
	return &Client{
		baseURL:    baseURL,
		merchantID: merchantID,
		tokenEnv:   tokenEnv,
		config:     config,
		ledger:     ldg,
	}
}

type gatewayTransaction struct {
	UTR              string  `json:"utr"`
	Amount           float64 `json:"amount"`
	PayerName        string  `json:"payerName"`
	Mode             string  `json:"mode"`
	PaymentTimestamp int64   `json:"paymentTimestamp"`
}

type gatewayListResponse struct {
	Data struct {
		Transactions []gatewayTransaction `json:"transactions"`
	} `json:"data"`
}

// RecentTransactions fetches the merchant's transactions between from
// and to (unix millis). Fresh data only; nothing is cached.
func (c *Client) RecentTransactions(ctx context.Context, from, to int64) ([]gatewayTransaction, error) {
	token, err := c.config.Get(ctx, configstore.KeyAggregatorToken, c.tokenEnv)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.baseURL + "/transactions")
	if err != nil {
		return nil, fmt.Errorf("parse aggregator URL: %w", err)
	}
	q := u.Query()
	q.Set("merchantId", c.merchantID)
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build aggregator request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUpstreamAuth
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var parsed gatewayListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrUpstreamUnavailable, err)
	}
	return parsed.Data.Transactions, nil
}

// FindPayment runs the pull adapter: fetch the live list scoped to the
// lookback window, keep exact-amount matches, drop UTRs the ledger has
// already seen inside the window (those are discoverable via the ledger
// fallback anyway), and return the earliest remaining payment as a
// ledger-shaped transaction. Returns nil when the live feed has nothing
// new.
func (c *Client) FindPayment(ctx context.Context, amountMinor int64, lookback time.Duration) (*models.Transaction, error) {
	now := time.Now().UnixMilli()
	notBefore := now - lookback.Milliseconds()

	list, err := c.RecentTransactions(ctx, notBefore, now)
	if err != nil {
		return nil, err
	}

	var best *gatewayTransaction
	for i := range list {
		entry := &list[i]
		if MinorUnits(entry.Amount) != amountMinor {
			continue
		}
		known, err := c.ledger.HasRecent(ctx, entry.UTR, notBefore)
		if err != nil {
			return nil, err
		}
		if known {
			continue
		}
		if best == nil || entry.PaymentTimestamp < best.PaymentTimestamp {
			best = entry
		}
	}
	if best == nil {
		return nil, nil
	}

	receivedAt := best.PaymentTimestamp
	if receivedAt == 0 {
		receivedAt = now
	}

	return &models.Transaction{
		UTR:          best.UTR,
		AmountMinor:  amountMinor,
		PayerName:    best.PayerName,
		PayerChannel: best.Mode,
		ReceivedAt:   receivedAt,
	}, nil
}
