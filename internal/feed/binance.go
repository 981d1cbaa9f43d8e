package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/pkg/types"
)

const (
	readTimeout      = 90 * time.Second // silent connections are dropped and redialed
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	restTimeout      = 10 * time.Second
)

// Binance streams live tickers from the Binance combined WebSocket stream.
// Before streaming it bootstraps one tick per symbol over REST so the rest
// of the system has reference prices immediately. Disconnects redial with
// exponential backoff (1s doubling to 30s max).
type Binance struct {
	symbols []string
	wsBase  string
	rest    *resty.Client

	bus    *bus.Bus
	logger *slog.Logger
}

// bookTicker is the REST bootstrap shape (GET /api/v3/ticker/bookTicker).
type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// streamMsg is one combined-stream frame; data carries the 24h ticker
// payload for the symbol named in stream.
type streamMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Last      string `json:"c"`
		Bid       string `json:"b"`
		Ask       string `json:"a"`
		Volume    string `json:"v"`
	} `json:"data"`
}

// NewBinance creates the live feed for symbols (exchange notation,
// e.g. BTCUSDT).
func NewBinance(b *bus.Bus, symbols []string, wsBase, restBase string, logger *slog.Logger) *Binance {
	return &Binance{
		symbols: symbols,
		wsBase:  wsBase,
		rest: resty.New().
			SetBaseURL(restBase).
			SetTimeout(restTimeout),
		bus:    b,
		logger: logger.With("component", "feed_binance"),
	}
}

// Run bootstraps prices over REST, then streams tickers until ctx is
// cancelled, reconnecting on errors.
func (f *Binance) Run(ctx context.Context) error {
	if err := f.bootstrap(ctx); err != nil {
		f.logger.Warn("rest bootstrap failed, starting without initial prices", "error", err)
	}

	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// bootstrap publishes one tick per symbol from the REST book ticker.
func (f *Binance) bootstrap(ctx context.Context) error {
	for _, sym := range f.symbols {
		var bt bookTicker
		resp, err := f.rest.R().
			SetContext(ctx).
			SetQueryParam("symbol", sym).
			SetResult(&bt).
			Get("/api/v3/ticker/bookTicker")
		if err != nil {
			return fmt.Errorf("book ticker %s: %w", sym, err)
		}
		if resp.IsError() {
			return fmt.Errorf("book ticker %s: status %d", sym, resp.StatusCode())
		}

		bid, err1 := decimal.NewFromString(bt.BidPrice)
		ask, err2 := decimal.NewFromString(bt.AskPrice)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("book ticker %s: bad prices %q/%q", sym, bt.BidPrice, bt.AskPrice)
		}
		mid := bid.Add(ask).Div(decimal.NewFromInt(2)).Round(types.PriceScale)

		f.bus.Publish(ctx, types.NewTickEvent(types.Tick{
			Symbol:    sym,
			Last:      mid,
			Bid:       bid.Round(types.PriceScale),
			Ask:       ask.Round(types.PriceScale),
			Volume:    0,
			Timestamp: time.Now().UTC(),
		}))
	}
	f.logger.Info("rest bootstrap complete", "symbols", f.symbols)
	return nil
}

// streamURL builds the combined-stream endpoint for all symbols.
func (f *Binance) streamURL() string {
	streams := make([]string, len(f.symbols))
	for i, sym := range f.symbols {
		streams[i] = strings.ToLower(sym) + "@ticker"
	}
	return f.wsBase + "/stream?streams=" + strings.Join(streams, "/")
}

func (f *Binance) connectAndRead(ctx context.Context) error {
	url := f.streamURL()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.logger.Info("websocket connected", "url", url)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		tick, ok := f.parse(msg)
		if !ok {
			continue
		}
		f.bus.Publish(ctx, types.NewTickEvent(tick))
	}
}

// parse converts one stream frame into a tick, dropping malformed frames
// with a warning.
func (f *Binance) parse(data []byte) (types.Tick, bool) {
	var msg streamMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Warn("dropping malformed frame", "error", err)
		return types.Tick{}, false
	}
	if msg.Data.Symbol == "" {
		return types.Tick{}, false
	}

	last, err := decimal.NewFromString(msg.Data.Last)
	if err != nil || !last.IsPositive() {
		f.logger.Warn("dropping frame with bad last price",
			"symbol", msg.Data.Symbol, "last", msg.Data.Last)
		return types.Tick{}, false
	}
	bid, err1 := decimal.NewFromString(msg.Data.Bid)
	ask, err2 := decimal.NewFromString(msg.Data.Ask)
	if err1 != nil || err2 != nil {
		bid, ask = last, last
	}
	volume := int64(0)
	if vol, err := decimal.NewFromString(msg.Data.Volume); err == nil {
		volume = vol.IntPart()
	}

	return types.Tick{
		Symbol:    msg.Data.Symbol,
		Last:      last.Round(types.PriceScale),
		Bid:       bid.Round(types.PriceScale),
		Ask:       ask.Round(types.PriceScale),
		Volume:    volume,
		Timestamp: time.UnixMilli(msg.Data.EventTime).UTC(),
	}, true
}
