package models

// HTTP request shapes for the management API. Transport tags live here so the
// core models above stay wire-agnostic.

// OpenPositionRequest admits an externally signalled position under
// management. Admission still passes through the risk gate.
type OpenPositionRequest struct {
	Symbol     string  `json:"symbol" validate:"required"`
	Side       string  `json:"side" validate:"required,oneof=long short"`
	EntryPrice float64 `json:"entry_price" validate:"required,gt=0"`
	Quantity   float64 `json:"quantity" validate:"required,gt=0"`
	Leverage   float64 `json:"leverage" default:"1"`
}

// ClosePositionRequest forces a managed position closed. Positions are keyed
// by symbol; one symbol carries at most one managed position.
type ClosePositionRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	Detail string `json:"detail"`
}

// RegimeRequest fetches the committed regime for one symbol.
type RegimeRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

// TradesRequest lists recent closed trades from the journal.
type TradesRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=500"`
}
