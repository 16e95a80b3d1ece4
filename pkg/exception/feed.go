package exception

import "github.com/yanun0323/errors"

// Feed errors
var (
	ErrNilSource         = errors.New("feed: nil source")
	ErrEmptyCollection   = errors.New("feed: empty collection name")
	ErrUnknownChangeKind = errors.New("feed: unknown change kind")
	ErrMalformedRow      = errors.New("feed: malformed row")
	ErrUnknownCollection = errors.New("mirror: unknown collection")
)
