package types

// SuccessEnvelope wraps every 2xx body.
type SuccessEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorEnvelope wraps every error body. Code is the pkg/errors code string.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// TokenEnvelope is the body of GET /api/mpesa/token.
type TokenEnvelope struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}
