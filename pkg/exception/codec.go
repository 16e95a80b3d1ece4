package exception

import "github.com/yanun0323/errors"

// Codec errors
var (
	ErrEncode = errors.New("codec: encode failed")
	ErrDecode = errors.New("codec: decode failed")
)
