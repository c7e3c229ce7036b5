package model

import "errors"

var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrNotFound          = errors.New("not found")
	ErrInboundNotFound   = errors.New("inbound not found in xray config")
	ErrMalformedRecord   = errors.New("malformed registry record")
	ErrConfigWrite       = errors.New("xray config write failed")
	ErrRestart           = errors.New("xray restart failed")
	ErrUnsupported       = errors.New("unsupported protocol/transport")
	ErrUnsafeArchive     = errors.New("backup archive contains unexpected entries")
	ErrInvalidInput      = errors.New("invalid input")
)
