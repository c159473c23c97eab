package dto

// ErrorResponse carries a single error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse acknowledges a state-changing operation.
type StatusResponse struct {
	Success bool `json:"success"`
}
