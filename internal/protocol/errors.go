package protocol

import (
	"errors"
	"fmt"
)

// GatewayError is an explicit error reported by the gateway, either in an
// "error" frame or as a plugin-level error_code.
//
//	var gwErr *GatewayError
//	if errors.As(err, &gwErr) && gwErr.Code == CodeSessionNotFound { ... }
type GatewayError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: error %d: %s", e.Code, e.Reason)
}

// Codes the client reacts to.
const (
	CodeSessionNotFound = 458
	CodeHandleNotFound  = 459
)

func IsGatewayError(err error, code int) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code == code
	}
	return false
}
