package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateAllocationRequest struct {
	SchoolID     string `json:"school_id"`
	SchoolName   string `json:"school_name"`
	CatererID    string `json:"caterer_id"`
	CatererName  string `json:"caterer_name"`
	Region       string `json:"region"`
	DeliveryDate string `json:"delivery_date"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency,omitempty"`
	Portions     int    `json:"portions"`
	Notes        string `json:"notes,omitempty"`
}

type CancelAllocationRequest struct {
	Reason string `json:"reason"`
}

type HoldAllocationRequest struct {
	Reason string `json:"reason"`
}

type ConfirmDeliveryRequest struct {
	Accepted         bool   `json:"accepted"`
	SchoolID         string `json:"school_id"`
	PortionsReceived int    `json:"portions_received"`
	QualityRating    int    `json:"quality_rating"`
	Notes            string `json:"notes,omitempty"`
	EvidenceURL      string `json:"evidence_url,omitempty"`
}

type ConfirmDeliveryResponse struct {
	AllocationID        string `json:"allocation_id"`
	Status              string `json:"status"`
	ReleasedAmountMinor int64  `json:"released_amount_minor,omitempty"`
	TxHash              string `json:"tx_hash,omitempty"`
}

type ConfirmationDTO struct {
	ID               string `json:"id"`
	DeliveryID       string `json:"delivery_id"`
	AllocationID     string `json:"allocation_id"`
	VerifierID       string `json:"verifier_id"`
	Outcome          string `json:"outcome"`
	PortionsReceived int    `json:"portions_received"`
	QualityRating    int    `json:"quality_rating"`
	Notes            string `json:"notes,omitempty"`
	EvidenceURL      string `json:"evidence_url,omitempty"`
	ConfirmedAt      string `json:"confirmed_at"`
}

type AllocationDTO struct {
	ID                 string `json:"id"`
	SchoolID           string `json:"school_id"`
	SchoolName         string `json:"school_name"`
	CatererID          string `json:"caterer_id"`
	CatererName        string `json:"caterer_name"`
	Region             string `json:"region,omitempty"`
	DeliveryID         string `json:"delivery_id"`
	DeliveryDate       string `json:"delivery_date"`
	AmountMinor        int64  `json:"amount_minor"`
	Currency           string `json:"currency"`
	Status             string `json:"status"`
	LockTxHash         string `json:"lock_tx_hash,omitempty"`
	ReleaseTxHash      string `json:"release_tx_hash,omitempty"`
	ReleaseBlockHeight uint64 `json:"release_block_height,omitempty"`
	ChainConfirmed     bool   `json:"chain_confirmed"`
	CancelReason       string `json:"cancel_reason,omitempty"`
	Portions           int    `json:"portions"`
	LockedAt           string `json:"locked_at,omitempty"`
	ReleasedAt         string `json:"released_at,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

type ListAllocationsResponse struct {
	Items []AllocationDTO `json:"items"`
}

type EscrowRecordDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	AmountMinor int64  `json:"amount_minor"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	FromAddress string `json:"from_address,omitempty"`
	ToAddress   string `json:"to_address,omitempty"`
	ChainStatus string `json:"chain_status"`
	ErrorDetail string `json:"error_detail,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type EscrowAuditTrailResponse struct {
	AllocationID string            `json:"allocation_id"`
	Records      []EscrowRecordDTO `json:"records"`
}
