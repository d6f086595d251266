// Package spot implements the live spot trading venue on top of go-binance.
package spot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"bot-trading-core/pkg/exchanges/common"
)

// Config holds Binance credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string  // overrides the venue host, used by tests
	RateLimit float64 // requests per second; 0 disables limiting
}

// Client is a Binance spot trading client.
type Client struct {
	api     *binance.Client
	limiter *rate.Limiter

	mu      sync.RWMutex
	filters map[string]common.Filters
}

var _ common.Trader = (*Client)(nil)

func New(cfg Config) *Client {
	api := binance.NewClient(cfg.APIKey, cfg.APISecret)
	switch {
	case cfg.BaseURL != "":
		api.BaseURL = cfg.BaseURL
	case cfg.Testnet:
		api.BaseURL = "https://testnet.binance.vision"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}
	return &Client{
		api:     api,
		limiter: limiter,
		filters: make(map[string]common.Filters),
	}
}

// SymbolFilters returns LOT_SIZE and notional constraints, cached per symbol.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (common.Filters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return common.Filters{}, err
	}
	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return common.Filters{}, fmt.Errorf("binance exchangeInfo failed: %w", err)
	}
	if len(info.Symbols) == 0 {
		return common.Filters{}, fmt.Errorf("symbol %s not found on binance", symbol)
	}

	s := info.Symbols[0]
	f = common.Filters{StepSize: common.DefaultStepSize}
	if lot := s.LotSizeFilter(); lot != nil {
		f.StepSize = parseDecimal(lot.StepSize)
		f.MinQty = parseDecimal(lot.MinQuantity)
		f.MaxQty = parseDecimal(lot.MaxQuantity)
	}
	if n := s.NotionalFilter(); n != nil {
		f.MinNotional = parseDecimal(n.MinNotional)
	} else if mn := s.MinNotionalFilter(); mn != nil {
		f.MinNotional = parseDecimal(mn.MinNotional)
	}

	c.mu.Lock()
	c.filters[symbol] = f
	c.mu.Unlock()
	return f, nil
}

// PlaceMarketOrder submits a MARKET order and returns the full fill breakdown.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty decimal.Decimal) (common.MarketOrderResult, error) {
	if !qty.IsPositive() {
		return common.MarketOrderResult{}, errors.New("binance: quantity must be positive")
	}
	bSide := binance.SideTypeBuy
	if side == common.SideSell {
		bSide = binance.SideTypeSell
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return common.MarketOrderResult{}, err
	}
	resp, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(bSide).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return common.MarketOrderResult{}, fmt.Errorf("binance order failed: %w", err)
	}

	out := common.MarketOrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          string(resp.Status),
		ExecutedQty:     parseDecimal(resp.ExecutedQuantity),
		QuoteQty:        parseDecimal(resp.CummulativeQuoteQuantity),
	}
	for _, f := range resp.Fills {
		if f == nil {
			continue
		}
		out.Fills = append(out.Fills, common.Fill{
			Price:           parseDecimal(f.Price),
			Qty:             parseDecimal(f.Quantity),
			Commission:      parseDecimal(f.Commission),
			CommissionAsset: f.CommissionAsset,
		})
	}
	if !out.FilledQty().IsPositive() {
		return out, fmt.Errorf("binance order %s returned no executed quantity (status %s)", out.ExchangeOrderID, out.Status)
	}
	return out, nil
}

// Balances returns free balances per asset, skipping empty ones.
func (c *Client) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance account failed: %w", err)
	}
	out := make(map[string]decimal.Decimal)
	for _, b := range acct.Balances {
		free := parseDecimal(b.Free)
		if free.IsPositive() {
			out[b.Asset] = free
		}
	}
	return out, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
