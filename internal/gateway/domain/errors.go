package domain

import "errors"

var (
	// ErrInvalidSignature means cryptographic verification failed. The caller
	// must not write a ledger record and should answer with a client error.
	ErrInvalidSignature = errors.New("invalid_signature")

	// ErrUnavailable is a transient gateway failure (timeout, 5xx). Whole
	// reconcile attempts fail cleanly on it and may be retried from scratch.
	ErrUnavailable = errors.New("gateway_unavailable")

	// ErrGatewayDisabled is returned by the stub used when no gateway
	// credentials are configured.
	ErrGatewayDisabled = errors.New("gateway_disabled")

	ErrInvalidPayload = errors.New("invalid_payload")
	ErrNotFound       = errors.New("gateway_object_not_found")
)
