// Package hyperliquid implements the reference venue adapter: a WebSocket
// data feed (venue.DataAdapter) and a REST execution client
// (venue.ExecutionAdapter) for Hyperliquid perpetuals, per spec.md §6.
package hyperliquid

import (
	"hyperquant/internal/decimal"
)

// subscribeMsg is the outbound `{"method":"subscribe","subscription":{...}}`
// frame of spec.md §6.
type subscribeMsg struct {
	Method       string           `json:"method"`
	Subscription subscriptionSpec `json:"subscription"`
}

type subscriptionSpec struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

// inboundFrame is the generic envelope every inbound frame carries: a
// channel discriminator plus an opaque data payload, re-parsed once the
// channel is known.
type inboundFrame struct {
	Channel string          `json:"channel"`
	Data    rawMessage      `json:"data"`
}

// rawMessage defers JSON decoding; avoids importing encoding/json here.
type rawMessage []byte

// UnmarshalJSON keeps a copy of the field's raw JSON bytes, unparsed.
func (m *rawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[:0], data...)
	return nil
}

// allMidsData is the payload of the "allMids" channel: a map of coin to
// mid price, encoded as a decimal string never a float (spec.md §6).
type allMidsData struct {
	Mids map[string]decimal.Decimal `json:"mids"`
}

// l2BookData is the payload of the "l2Book" channel: two price-ordered
// ladders of [price, size] pairs as decimal strings.
type l2BookData struct {
	Coin   string        `json:"coin"`
	Levels [2][]wireLevel `json:"levels"` // [0]=bids, [1]=asks
	Time   int64         `json:"time"`
}

type wireLevel struct {
	Px decimal.Decimal `json:"px"`
	Sz decimal.Decimal `json:"sz"`
	N  int             `json:"n"` // number of orders at this level
}

// tradesData is the payload of the "trades" channel: a batch of executed
// trade prints.
type tradesData []wireTrade

type wireTrade struct {
	Coin  string          `json:"coin"`
	Side  string          `json:"side"` // "B" or "A"
	Px    decimal.Decimal `json:"px"`
	Sz    decimal.Decimal `json:"sz"`
	Time  int64           `json:"time"`
	Tid   int64           `json:"tid"`
}

// orderAction is the `{action, nonce, vault_address?}` shape submitted to
// the exchange action endpoint (spec.md §6). Signing happens externally via
// venue.Signer; this struct is the unsigned body plus the resulting
// signature.
type orderAction struct {
	Action       any           `json:"action"`
	Nonce        int64         `json:"nonce"`
	Signature    wireSignature `json:"signature"`
	VaultAddress string        `json:"vaultAddress,omitempty"`
}

type wireSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type placeOrderAction struct {
	Type     string        `json:"type"` // "order"
	Orders   []wireOrder   `json:"orders"`
	Grouping string        `json:"grouping"`
}

type wireOrder struct {
	Asset      int    `json:"a"`
	IsBuy      bool   `json:"b"`
	Price      string `json:"p"`
	Size       string `json:"s"`
	ReduceOnly bool   `json:"r"`
	OrderType  wireOrderType `json:"t"`
	ClientID   string `json:"c,omitempty"`
}

type wireOrderType struct {
	Limit *wireLimitType `json:"limit,omitempty"`
}

type wireLimitType struct {
	Tif string `json:"tif"` // "Gtc"|"Ioc"|"Alo" (post-only)
}

// orderResponse is the exchange's synchronous reply to an order action.
type orderResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatusEntry `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type orderStatusEntry struct {
	Resting *struct {
		OID int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Error string `json:"error,omitempty"`
}

// cancelAction cancels one order by asset+oid.
type cancelAction struct {
	Type    string         `json:"type"` // "cancel"
	Cancels []wireCancel   `json:"cancels"`
}

type wireCancel struct {
	Asset int   `json:"a"`
	OID   int64 `json:"o"`
}
