package binance

import (
	"strconv"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// apiError is the error envelope the futures REST API returns on non-2xx
// responses.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// orderResponse is the REST response for order placement, query, and cancel.
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

// ToAck maps the response to a domain acknowledgement.
func (r orderResponse) ToAck() domain.OrderAck {
	return domain.OrderAck{
		OrderID: strconv.FormatInt(r.OrderID, 10),
		Status:  domain.OrderStatus(r.Status),
	}
}

// ToFillState maps the response to the domain fill state.
func (r orderResponse) ToFillState() domain.FillState {
	return domain.FillState{
		Status:      domain.OrderStatus(r.Status),
		ExecutedQty: parseFloat(r.ExecutedQty),
		AvgPrice:    parseFloat(r.AvgPrice),
	}
}

// depthResponse is the order book snapshot. Levels are [price, qty] string
// pairs.
type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// NotionalUSD sums price*qty over the bid levels, the conservative side for
// liquidity checks on entries.
func (d depthResponse) NotionalUSD() float64 {
	var total float64
	for _, lvl := range d.Bids {
		total += parseFloat(lvl[0]) * parseFloat(lvl[1])
	}
	return total
}

// premiumIndexResponse carries mark price and funding data for one symbol.
type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

// positionRiskResponse is one entry of the position risk endpoint.
type positionRiskResponse struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

// ToPosition maps the response to a domain position. A negative position
// amount is a short.
func (r positionRiskResponse) ToPosition() domain.Position {
	amt := parseFloat(r.PositionAmt)
	side := domain.SideLong
	if amt < 0 {
		side = domain.SideShort
		amt = -amt
	}
	return domain.Position{
		Symbol:        r.Symbol,
		Side:          side,
		Quantity:      amt,
		EntryPrice:    parseFloat(r.EntryPrice),
		Leverage:      parseFloat(r.Leverage),
		MarkPrice:     parseFloat(r.MarkPrice),
		UnrealizedPnL: parseFloat(r.UnRealizedProfit),
	}
}

// bracketResponse is the leverage bracket table for one symbol.
type bracketResponse struct {
	Symbol   string `json:"symbol"`
	Brackets []struct {
		NotionalCap     float64 `json:"notionalCap"`
		InitialLeverage float64 `json:"initialLeverage"`
	} `json:"brackets"`
}

// ToBrackets maps the bracket table to domain tiers.
func (r bracketResponse) ToBrackets() []domain.LeverageBracket {
	out := make([]domain.LeverageBracket, 0, len(r.Brackets))
	for _, b := range r.Brackets {
		out = append(out, domain.LeverageBracket{
			NotionalCap: b.NotionalCap,
			MaxLeverage: b.InitialLeverage,
		})
	}
	return out
}

// exchangeInfoResponse carries the trading rules for the requested symbols.
// Tick and lot sizes live inside the per-symbol filter list.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// ContractFor extracts the contract metadata for one symbol, or false when
// the symbol is absent from the response.
func (r exchangeInfoResponse) ContractFor(symbol string) (domain.ContractMeta, bool) {
	for _, s := range r.Symbols {
		if s.Symbol != symbol {
			continue
		}
		meta := domain.ContractMeta{
			BaseCcy:  s.BaseAsset,
			QuoteCcy: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				meta.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				meta.LotSize = parseFloat(f.StepSize)
			case "MIN_NOTIONAL":
				meta.MinNotional = parseFloat(f.Notional)
			}
		}
		return meta, true
	}
	return domain.ContractMeta{}, false
}

// orderSide maps a position direction to the wire side for an entry order.
// Exit orders already carry the opposite direction.
func orderSide(side domain.Side) string {
	if side == domain.SideShort {
		return "SELL"
	}
	return "BUY"
}

// parseFloat converts a decimal string field, mapping parse failures and
// empty strings to 0.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// formatFloat renders a float for the wire without exponent notation.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
