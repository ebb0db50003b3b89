package contract

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrProcessing = errors.New("conversation processing failed")
	ErrUpstream   = errors.New("upstream service failed")
	ErrAuth       = errors.New("upstream authentication failed")
)
