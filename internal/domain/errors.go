package domain

import "errors"

var (
	ErrPoolExhausted      = errors.New("pool exhausted")
	ErrHandshakeFailed    = errors.New("handshake failed")
	ErrResourceInUse      = errors.New("resource in use")
	ErrResourceNotFound   = errors.New("resource not found")
	ErrDuplicateResource  = errors.New("resource already exists")
	ErrNotCheckedOut      = errors.New("resource not checked out")
	ErrSessionNotFound    = errors.New("session not found")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrSecretNotFound     = errors.New("secret not found")
	ErrPoolNotEmpty       = errors.New("pool not empty")
)
