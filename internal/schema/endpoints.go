package schema

import (
	"fmt"
)

// Endpoints maps each service family to the broker frontend address callers
// connect to.
type Endpoints struct {
	byFamily map[Family]string
}

// NewEndpoints creates an empty endpoint table.
func NewEndpoints() *Endpoints {
	return &Endpoints{byFamily: make(map[Family]string)}
}

// Set registers the broker address for a family.
func (e *Endpoints) Set(f Family, addr string) error {
	if f == FamilyUnknown {
		return fmt.Errorf("endpoint family is unknown")
	}
	if addr == "" {
		return fmt.Errorf("endpoint address is empty for %s", f)
	}
	e.byFamily[f] = addr
	return nil
}

// Resolve returns the address serving s.
func (e *Endpoints) Resolve(s Service) (string, bool) {
	if e == nil {
		return "", false
	}
	addr, ok := e.byFamily[s.Family()]
	return addr, ok
}
