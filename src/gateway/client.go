package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"pmexecutor/src/model"
	"pmexecutor/src/security"
)

// Client is the typed gateway over the CLOB order/balance endpoints and the
// data-api position endpoint. It owns auth, rate limiting and transport
// error classification; it keeps no local state beyond its HTTP clients.
type Client struct {
	log    *logger.Entry
	clob   *resty.Client
	data   *resty.Client
	signer signer

	orderLimiter   *RateLimiter
	accountLimiter *RateLimiter
}

// NewClient builds a gateway from config. Order submission is never
// auto-retried by the transport layer; only read-only calls carry resty's
// retry policy.
func NewClient(log *logger.Entry, config Config) (*Client, error) {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	creds, err := resolveCredentials(config)
	if err != nil {
		return nil, err
	}

	clob := resty.New().
		SetBaseURL(strings.TrimRight(config.CLOBBaseURL, "/")).
		SetTimeout(config.RequestTimeout).
		SetHeader("Accept", "application/json")

	data := resty.New().
		SetBaseURL(strings.TrimRight(config.DataBaseURL, "/")).
		SetTimeout(config.RequestTimeout).
		SetRetryCount(config.ReadRetryCount).
		SetRetryWaitTime(config.ReadRetryWaitTime).
		SetRetryMaxWaitTime(config.ReadRetryMaxWait)

	return &Client{
		log:            log,
		clob:           clob,
		data:           data,
		signer:         creds,
		orderLimiter:   NewRateLimiter(2, config.OrderRatePerSecond),
		accountLimiter: NewRateLimiter(5, config.AccountRatePerSecond),
	}, nil
}

// resolveCredentials produces the signing credentials, decrypting them when
// they are stored encrypted at rest.
func resolveCredentials(config Config) (signer, error) {
	creds := signer{
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		passphrase: config.APIPassphrase,
		address:    config.FunderAddress,
	}

	if !config.CredentialsEncrypted {
		return creds, nil
	}

	var err error
	if creds.apiKey, err = security.DecryptString(config.APIKey); err != nil {
		return signer{}, fmt.Errorf("decrypt api key: %w", err)
	}
	if creds.apiSecret, err = security.DecryptString(config.APISecret); err != nil {
		return signer{}, fmt.Errorf("decrypt api secret: %w", err)
	}
	if creds.passphrase, err = security.DecryptString(config.APIPassphrase); err != nil {
		return signer{}, fmt.Errorf("decrypt api passphrase: %w", err)
	}

	return creds, nil
}

type submitRequest struct {
	TokenID       string `json:"tokenID"`
	Price         string `json:"price,omitempty"`
	Size          string `json:"size"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	ClientOrderID string `json:"clientOrderID"`
}

// SubmitOrder posts the intent to the order endpoint and returns the
// classified outcome. The intent ID travels as the client order ID so the
// exchange-side dedupe lines up with the ledger's.
func (c *Client) SubmitOrder(ctx context.Context, intent model.OrderIntent) SubmitOutcome {
	c.orderLimiter.Wait()

	orderType := "GTC"
	if intent.Market {
		orderType = "FOK"
	}

	req := submitRequest{
		TokenID:       intent.TokenID,
		Size:          intent.Size.String(),
		Side:          strings.ToUpper(intent.Side),
		OrderType:     orderType,
		ClientOrderID: intent.IntentID,
	}
	if !intent.Market {
		req.Price = intent.Price.String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		// Nothing left the host; safe for the caller to retry.
		return SubmitOutcome{Kind: OutcomeTransportFailure, Err: err}
	}

	const path = "/order"
	headers, err := c.signer.headers(http.MethodPost, path, string(body))
	if err != nil {
		return SubmitOutcome{Kind: OutcomeTransportFailure, Err: err}
	}

	c.log.WithFields(map[string]interface{}{
		"component": "Gateway",
		"op":        "SubmitOrder",
		"intent_id": intent.IntentID,
		"token_id":  intent.TokenID,
		"side":      req.Side,
		"size":      intent.Size.String(),
	}).Debug("Submitting order")

	var parsed submitResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(path)

	outcome := classifySubmit(resp, &parsed, err)

	c.log.WithFields(map[string]interface{}{
		"component": "Gateway",
		"op":        "SubmitOrder",
		"intent_id": intent.IntentID,
		"outcome":   outcome.Kind.String(),
		"order_id":  outcome.ExchangeOrderID,
	}).Info("Order submission classified")

	return outcome
}

// OrderStatus is the exchange-reported state of an order, mapped onto the
// ledger's status vocabulary.
type OrderStatus struct {
	ExchangeOrderID string
	Status          string
	RawStatus       string
	OriginalSize    decimal.Decimal
	SizeMatched     decimal.Decimal
}

type clobOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// GetOrderStatus queries a single order by its exchange ID. Returns
// ErrOrderNotFound when the exchange has no record of it.
func (c *Client) GetOrderStatus(ctx context.Context, exchangeOrderID string) (OrderStatus, error) {
	c.accountLimiter.Wait()

	path := "/data/order/" + exchangeOrderID
	headers, err := c.signer.headers(http.MethodGet, path, "")
	if err != nil {
		return OrderStatus{}, err
	}

	var order clobOrder
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&order).
		Get(path)
	if err != nil {
		return OrderStatus{}, &TransportError{Op: "getOrderStatus", Ambiguous: false, Err: err}
	}

	if resp.StatusCode() == http.StatusNotFound {
		return OrderStatus{}, ErrOrderNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderStatus{}, fmt.Errorf("order status query failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	return mapOrderStatus(order)
}

func mapOrderStatus(order clobOrder) (OrderStatus, error) {
	original, err := decimal.NewFromString(defaultNumeric(order.OriginalSize))
	if err != nil {
		return OrderStatus{}, fmt.Errorf("bad original_size %q: %w", order.OriginalSize, err)
	}
	matched, err := decimal.NewFromString(defaultNumeric(order.SizeMatched))
	if err != nil {
		return OrderStatus{}, fmt.Errorf("bad size_matched %q: %w", order.SizeMatched, err)
	}

	status := OrderStatus{
		ExchangeOrderID: order.ID,
		RawStatus:       order.Status,
		OriginalSize:    original,
		SizeMatched:     matched,
	}

	switch strings.ToLower(order.Status) {
	case "matched":
		if matched.LessThan(original) && matched.IsPositive() {
			status.Status = model.OrderStatusPartiallyFilled
		} else {
			status.Status = model.OrderStatusFilled
		}
	case "live", "delayed":
		if matched.IsPositive() {
			status.Status = model.OrderStatusPartiallyFilled
		} else {
			status.Status = model.OrderStatusAcknowledged
		}
	case "canceled", "unmatched":
		if matched.IsPositive() {
			status.Status = model.OrderStatusPartiallyFilled
		} else {
			status.Status = model.OrderStatusFailed
		}
	default:
		status.Status = model.OrderStatusUnknown
	}

	return status, nil
}

func defaultNumeric(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

// FindOrderByClientID scans the account's orders for one carrying the given
// client order ID. Used to resolve intents whose submission outcome was
// ambiguous before any exchange ID was learned. Returns ErrOrderNotFound
// when the exchange holds no such order, i.e. the submission never landed.
func (c *Client) FindOrderByClientID(ctx context.Context, clientOrderID string) (OrderStatus, error) {
	c.accountLimiter.Wait()

	const path = "/data/orders"
	headers, err := c.signer.headers(http.MethodGet, path, "")
	if err != nil {
		return OrderStatus{}, err
	}

	var orders []struct {
		clobOrder
		ClientOrderID string `json:"clientOrderID"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&orders).
		Get(path)
	if err != nil {
		return OrderStatus{}, &TransportError{Op: "findOrderByClientID", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderStatus{}, fmt.Errorf("order scan failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	for _, order := range orders {
		if order.ClientOrderID == clientOrderID {
			return mapOrderStatus(order.clobOrder)
		}
	}

	return OrderStatus{}, ErrOrderNotFound
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type dataPosition struct {
	Slug       string  `json:"slug"`
	Size       float64 `json:"size"`
	Redeemable bool    `json:"redeemable"`
}

// GetAccountSnapshot pulls the authoritative USDC balance and open positions
// and stamps the snapshot with the retrieval time.
func (c *Client) GetAccountSnapshot(ctx context.Context) (model.AccountSnapshot, error) {
	c.accountLimiter.Wait()

	const balancePath = "/balance-allowance"
	headers, err := c.signer.headers(http.MethodGet, balancePath, "")
	if err != nil {
		return model.AccountSnapshot{}, err
	}

	var balance balanceResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("asset_type", "COLLATERAL").
		SetResult(&balance).
		Get(balancePath)
	if err != nil {
		return model.AccountSnapshot{}, &TransportError{Op: "getBalance", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return model.AccountSnapshot{}, fmt.Errorf("balance query failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	// Collateral balances arrive in USDC base units (6 decimals).
	raw, err := decimal.NewFromString(defaultNumeric(balance.Balance))
	if err != nil {
		return model.AccountSnapshot{}, fmt.Errorf("bad balance %q: %w", balance.Balance, err)
	}
	usdc := raw.Shift(-6)

	var positions []dataPosition
	resp, err = c.data.R().
		SetContext(ctx).
		SetQueryParam("user", c.signer.address).
		SetResult(&positions).
		Get("/positions")
	if err != nil {
		return model.AccountSnapshot{}, &TransportError{Op: "getPositions", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return model.AccountSnapshot{}, fmt.Errorf("positions query failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	snapshot := model.AccountSnapshot{
		Balances:  map[string]decimal.Decimal{"USDC": usdc},
		Positions: make(map[string]decimal.Decimal, len(positions)),
		AsOf:      time.Now().UTC(),
	}
	for _, pos := range positions {
		if pos.Slug == "" {
			continue
		}
		size := decimal.NewFromFloat(pos.Size)
		snapshot.Positions[pos.Slug] = snapshot.Positions[pos.Slug].Add(size)
	}

	c.log.WithFields(map[string]interface{}{
		"component": "Gateway",
		"op":        "GetAccountSnapshot",
		"usdc":      usdc.String(),
		"positions": len(snapshot.Positions),
	}).Debug("Account snapshot fetched")

	return snapshot, nil
}

// CancelOrder cancels a live order. Used by operators; the pipeline itself
// never cancels, it resolves.
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	c.orderLimiter.Wait()

	const path = "/order"
	body, _ := json.Marshal(map[string]string{"orderID": exchangeOrderID})

	headers, err := c.signer.headers(http.MethodDelete, path, string(body))
	if err != nil {
		return err
	}

	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Delete(path)
	if err != nil {
		return &TransportError{Op: "cancelOrder", Ambiguous: true, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	return nil
}
