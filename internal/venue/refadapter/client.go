package refadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"tradecoord/internal/scheduler"
	"tradecoord/internal/venue"
	"tradecoord/pkg/types"
)

// Client is the REST half of the reference adapter: a resty client with
// retry-on-5xx, reservation through the shared Scheduler, and EIP-712
// request signing. Grounded on internal/exchange/client.go.
type Client struct {
	http     *resty.Client
	signer   *Signer
	sched    *scheduler.Scheduler
	dryRun   bool
	log      *slog.Logger
	callbacks venue.CoreCallbacks
}

// ClientConfig bundles Client's dependencies.
type ClientConfig struct {
	BaseURL string
	Signer  *Signer
	Sched   *scheduler.Scheduler
	DryRun  bool
	Log     *slog.Logger
}

// NewClient builds a reference REST client.
func NewClient(cfg ClientConfig, callbacks venue.CoreCallbacks) *Client {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:      httpClient,
		signer:    cfg.Signer,
		sched:     cfg.Sched,
		dryRun:    cfg.DryRun,
		log:       log.With("component", "refadapter"),
		callbacks: callbacks,
	}
}

func classify(statusCode int, err error) *types.ExchangeError {
	if err != nil {
		return &types.ExchangeError{Kind: types.ErrNetwork, Message: err.Error(), Wrapped: err}
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &types.ExchangeError{Kind: types.ErrRateLimit, Message: "rate limited", Code: &statusCode}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &types.ExchangeError{Kind: types.ErrAuthentication, Message: "authentication rejected", Code: &statusCode}
	case statusCode == http.StatusNotFound:
		return &types.ExchangeError{Kind: types.ErrOrderNotFound, Message: "not found", Code: &statusCode}
	case statusCode >= 400:
		return &types.ExchangeError{Kind: types.ErrUnknown, Message: fmt.Sprintf("status %d", statusCode), Code: &statusCode}
	default:
		return nil
	}
}

func (c *Client) RequestAllSymbols(ctx context.Context) ([]types.Symbol, error) {
	if err := c.sched.ReserveWhenAvailable(ctx, "symbols"); err != nil {
		return nil, err
	}
	var result []types.Symbol
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/symbols")
	if e := classify(statusOf(resp), err); e != nil {
		return nil, e
	}
	return result, nil
}

func (c *Client) CreateOrder(ctx context.Context, spec venue.CreateOrderSpec) (venue.CreateOrderResult, error) {
	if err := c.sched.ReserveWhenAvailable(ctx, "order"); err != nil {
		return venue.CreateOrderResult{}, err
	}
	if c.dryRun {
		return venue.CreateOrderResult{ExchangeOrderID: "dryrun-" + spec.ClientOrderID}, nil
	}

	headers, err := c.signer.AuthHeaders(time.Now().UnixNano())
	if err != nil {
		return venue.CreateOrderResult{}, &types.ExchangeError{Kind: types.ErrAuthentication, Message: err.Error(), Wrapped: err}
	}

	var result struct {
		ExchangeOrderID string `json:"exchange_order_id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(spec).
		SetResult(&result).
		Post("/orders")
	if e := classify(statusOf(resp), err); e != nil {
		return venue.CreateOrderResult{}, e
	}
	return venue.CreateOrderResult{ExchangeOrderID: result.ExchangeOrderID}, nil
}

func (c *Client) RequestCancelOrder(ctx context.Context, exchangeOrderID string) error {
	if err := c.sched.ReserveWhenAvailable(ctx, "cancel"); err != nil {
		return err
	}
	if c.dryRun {
		return nil
	}
	headers, err := c.signer.AuthHeaders(time.Now().UnixNano())
	if err != nil {
		return &types.ExchangeError{Kind: types.ErrAuthentication, Message: err.Error(), Wrapped: err}
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete("/orders/" + exchangeOrderID)
	if e := classify(statusOf(resp), err); e != nil {
		if e.Kind == types.ErrOrderNotFound {
			return nil // already canceled — treated as success per §7
		}
		return e
	}
	return nil
}

func (c *Client) CancelAllOrders(ctx context.Context, pair types.CurrencyPair) error {
	if err := c.sched.ReserveWhenAvailable(ctx, "cancel"); err != nil {
		return err
	}
	if c.dryRun {
		return nil
	}
	headers, err := c.signer.AuthHeaders(time.Now().UnixNano())
	if err != nil {
		return &types.ExchangeError{Kind: types.ErrAuthentication, Message: err.Error(), Wrapped: err}
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("pair", pair.String()).
		Delete("/cancel-all")
	if e := classify(statusOf(resp), err); e != nil {
		return e
	}
	return nil
}

func (c *Client) GetOpenOrders(ctx context.Context) ([]types.OrderSnapshot, error) {
	return nil, nil
}

func (c *Client) GetOpenOrdersByCurrencyPair(ctx context.Context, pair types.CurrencyPair) ([]types.OrderSnapshot, error) {
	return nil, nil
}

func (c *Client) GetOrderInfo(ctx context.Context, exchangeOrderID string) (types.OrderSnapshot, error) {
	if err := c.sched.ReserveWhenAvailable(ctx, "get_order_info"); err != nil {
		return types.OrderSnapshot{}, err
	}
	var result types.OrderSnapshot
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/orders/" + exchangeOrderID)
	if e := classify(statusOf(resp), err); e != nil {
		return types.OrderSnapshot{}, e
	}
	return result, nil
}

func (c *Client) RequestMyTrades(ctx context.Context, pair types.CurrencyPair, since *time.Time) ([]venue.Trade, error) {
	if err := c.sched.ReserveWhenAvailable(ctx, "my_trades"); err != nil {
		return nil, err
	}
	req := c.http.R().SetContext(ctx).SetQueryParam("pair", pair.String())
	if since != nil {
		req.SetQueryParam("since", since.Format(time.RFC3339))
	}
	var result []venue.Trade
	resp, err := req.SetResult(&result).Get("/my-trades")
	if e := classify(statusOf(resp), err); e != nil {
		return nil, e
	}
	return result, nil
}

func (c *Client) RequestGetPosition(ctx context.Context, pair types.CurrencyPair) (types.Position, error) {
	if err := c.sched.ReserveWhenAvailable(ctx, "get_position"); err != nil {
		return types.Position{}, err
	}
	var result types.Position
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("pair", pair.String()).SetResult(&result).Get("/position")
	if e := classify(statusOf(resp), err); e != nil {
		return types.Position{}, e
	}
	return result, nil
}

func (c *Client) RequestGetBalanceAndPosition(ctx context.Context) (venue.BalanceAndPositions, error) {
	if err := c.sched.ReserveWhenAvailable(ctx, "get_balance"); err != nil {
		return venue.BalanceAndPositions{}, err
	}
	var result venue.BalanceAndPositions
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/balance-and-positions")
	if e := classify(statusOf(resp), err); e != nil {
		return venue.BalanceAndPositions{}, e
	}
	return result, nil
}

func (c *Client) GetBalance(ctx context.Context) ([]types.Balance, error) {
	if err := c.sched.ReserveWhenAvailable(ctx, "get_balance"); err != nil {
		return nil, err
	}
	var result []types.Balance
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/balance")
	if e := classify(statusOf(resp), err); e != nil {
		return nil, e
	}
	return result, nil
}

func (c *Client) RequestClosePosition(ctx context.Context, pos types.Position, price *decimal.Decimal) error {
	if err := c.sched.ReserveWhenAvailable(ctx, "close_position"); err != nil {
		return err
	}
	if c.dryRun {
		return nil
	}
	body := map[string]any{"pair": pos.CurrencyPair.String(), "amount": pos.Amount.String()}
	if price != nil {
		body["price"] = price.String()
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/close-position")
	if e := classify(statusOf(resp), err); e != nil {
		return e
	}
	return nil
}

func (c *Client) Connect(ctx context.Context) error    { return nil }
func (c *Client) Disconnect(ctx context.Context) error { return nil }

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}
