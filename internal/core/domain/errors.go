package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrClientNotFound  = errors.New("sfu client not found")
	ErrNotProducing    = errors.New("peer is not producing that kind")
)
