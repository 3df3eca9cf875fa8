package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CallbackResponse struct {
	AllocationID string `json:"allocation_id"`
	EventType    string `json:"event_type"`
	Status       string `json:"status,omitempty"`
	Applied      bool   `json:"applied"`
}
