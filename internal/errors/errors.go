package errors

import "errors"

var (
	ErrInvalidFilter       = errors.New("invalid instance filter")
	ErrInvalidTagPair      = errors.New("invalid tag pair")
	ErrReservedTagKey      = errors.New("tag keys with the aws: prefix are reserved")
	ErrUnknownConfigSource = errors.New("unknown CONFIG_SOURCE")
)
