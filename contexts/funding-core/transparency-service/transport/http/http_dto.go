package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type FeedEntryDTO struct {
	AllocationID string `json:"allocation_id"`
	SchoolName   string `json:"school_name"`
	CatererName  string `json:"caterer_name"`
	Region       string `json:"region,omitempty"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	Portions     int    `json:"portions,omitempty"`
	DeliveryDate string `json:"delivery_date"`
	ReleasedAt   string `json:"released_at"`
	TxHash       string `json:"tx_hash,omitempty"`
	BlockHeight  uint64 `json:"block_height,omitempty"`
}

type FeedResponse struct {
	Items      []FeedEntryDTO `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
