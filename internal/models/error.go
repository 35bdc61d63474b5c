package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Proxy provisioning errors
	ErrMalformedAddress = errors.New("malformed email address")
	ErrUnknownDomain    = errors.New("unknown domain")
	ErrDomainFull       = errors.New("domain user quota exceeded")
)
