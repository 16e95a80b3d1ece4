package cache

import (
	"hash/fnv"

	"github.com/westonnelson/Alpha-sub001/internal/codec"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
)

// Fingerprint identifies a logical request. It is only ever used as a key.
type Fingerprint uint64

// Normalizer is implemented by requests whose equal values can be written in
// more than one way. Normalize returns the canonical form.
type Normalizer interface {
	Normalize() any
}

// Of fingerprints req as a request to service.
func Of(service schema.Service, req any) (Fingerprint, error) {
	if n, ok := req.(Normalizer); ok {
		req = n.Normalize()
	}
	raw, err := codec.Marshal(req)
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(service))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(raw)
	return Fingerprint(h.Sum64()), nil
}
