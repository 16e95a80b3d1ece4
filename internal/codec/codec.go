package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
)

var writerPool = sync.Pool{
	New: func() any {
		return zlib.NewWriter(nil)
	},
}

// Encode serializes v with msgpack and compresses the result with zlib.
func Encode(v any) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress(raw)
}

// Decode is the exact inverse of Encode.
func Decode(data []byte, v any) error {
	raw, err := decompress(data)
	if err != nil {
		return err
	}
	return Unmarshal(raw, v)
}

// Marshal serializes v without compression. Map keys are sorted so equal
// values always produce equal bytes.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", exception.ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a payload produced by Marshal.
func Unmarshal(raw []byte, v any) error {
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", exception.ErrDecode, err)
	}
	return nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(raw)/2 + 16)

	zw := writerPool.Get().(*zlib.Writer)
	defer writerPool.Put(zw)
	zw.Reset(&buf)

	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", exception.ErrEncode, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", exception.ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", exception.ErrDecode)
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exception.ErrDecode, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exception.ErrDecode, err)
	}
	return raw, nil
}
