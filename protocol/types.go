package protocol

type DepthItem struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Count int64  `json:"count"`
}

// GetDepthResponse represents the aggregated (L2) state of the order book.
type GetDepthResponse struct {
	UpdateID uint64       `json:"update_id"`
	Asks     []*DepthItem `json:"asks"`
	Bids     []*DepthItem `json:"bids"`
}

// OpenOrder is one resting order in an L3 view.
type OpenOrder struct {
	OrderIndex     uint32 `json:"order_index"`
	SequenceNumber uint64 `json:"sequence_number"`
	Trader         string `json:"trader"`
	IsBid          bool   `json:"is_bid"`
	Price          string `json:"price"`
	BaseAtoms      uint64 `json:"base_atoms"`
	LastValidSlot  uint32 `json:"last_valid_slot"`
	OrderType      string `json:"order_type"`
}

// GetStatsResponse contains statistics about a market account.
type GetStatsResponse struct {
	AskOrderCount  int64  `json:"ask_order_count"`
	BidOrderCount  int64  `json:"bid_order_count"`
	SeatCount      int64  `json:"seat_count"`
	FreeBlocks     int64  `json:"free_blocks"`
	BytesAllocated uint32 `json:"bytes_allocated"`
	QuoteVolume    uint64 `json:"quote_volume"`
	SequenceNumber uint64 `json:"sequence_number"`
}

// LogType represents the type of event log.
type LogType string

const (
	LogTypeCreateMarket    LogType = "create_market"
	LogTypeClaimSeat       LogType = "claim_seat"
	LogTypeDeposit         LogType = "deposit"
	LogTypeWithdraw        LogType = "withdraw"
	LogTypeFill            LogType = "fill"
	LogTypePlaceOrder      LogType = "place_order"
	LogTypeCancelOrder     LogType = "cancel_order"
	LogTypeExpireOrder     LogType = "expire_order"
	LogTypeGlobalCreate    LogType = "global_create"
	LogTypeGlobalAddTrader LogType = "global_add_trader"
	LogTypeGlobalClaimSeat LogType = "global_claim_seat"
	LogTypeGlobalDeposit   LogType = "global_deposit"
	LogTypeGlobalWithdraw  LogType = "global_withdraw"
	LogTypeGlobalEvict     LogType = "global_evict"
	LogTypeGlobalCleanup   LogType = "global_cleanup"
)
