package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrOrderNotFound is matched by exchange errors that mean "no such order",
	// including cancel-all on a symbol with nothing open.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCredentialsMissing is returned by signed calls without API keys.
	ErrCredentialsMissing = errors.New("api key/secret required")
)

// Binance error codes the engine reacts to.
const (
	CodeDisconnected     = -1001
	CodeTooManyRequests  = -1003
	CodeTimeout          = -1007
	CodeTooManyOrders    = -1015
	CodeInvalidTimestamp = -1021
	CodeUnknownOrder     = -2011
	CodeNoSuchOrder      = -2013
)

// APIError is a decoded non-2xx exchange response.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Is lets errors.Is(err, ErrOrderNotFound) match the unknown-order codes.
func (e *APIError) Is(target error) bool {
	if target == ErrOrderNotFound {
		return e.Code == CodeUnknownOrder || e.Code == CodeNoSuchOrder
	}
	return false
}

// IsRateLimited reports throttling by the exchange.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.HTTPStatus == http.StatusTooManyRequests, apiErr.HTTPStatus == http.StatusTeapot:
		return true
	case apiErr.Code == CodeTooManyRequests, apiErr.Code == CodeTooManyOrders:
		return true
	}
	return false
}

// IsConnectivity reports network-level failures: the venue could not be reached
// or the connection broke. Context cancellation is not a connectivity error.
func IsConnectivity(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// IsTransient reports failures worth retrying: connectivity, throttling and
// exchange-side overload or clock skew.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsConnectivity(err) || IsRateLimited(err) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatus >= 500 {
			return true
		}
		switch apiErr.Code {
		case CodeDisconnected, CodeTimeout, CodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// IsRequestNotSent reports failures where the exchange certainly did not
// accept the request, so a write can be retried without duplicating it.
func IsRequestNotSent(err error) bool {
	if IsRateLimited(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
