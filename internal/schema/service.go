package schema

import (
	"strings"
)

// Service identifies a request handler. The string form travels on the wire
// as the second request frame.
type Service string

const (
	ServiceQuote  Service = "quote"
	ServiceCandle Service = "candle"
	ServiceDetail Service = "detail"
	ServiceTrades Service = "trades"

	ServiceAccountFetch   Service = "account_fetch"
	ServiceAccountKeys    Service = "account_keys"
	ServiceAccountMatch   Service = "account_match"
	ServiceGuildFetch     Service = "guild_fetch"
	ServiceUserFetch      Service = "user_fetch"
	ServiceDatabaseStatus Service = "database_status"
)

// Family groups services served by the same process behind one broker.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyMarket
	FamilyDatabase
)

var services = map[Service]Family{
	ServiceQuote:          FamilyMarket,
	ServiceCandle:         FamilyMarket,
	ServiceDetail:         FamilyMarket,
	ServiceTrades:         FamilyMarket,
	ServiceAccountFetch:   FamilyDatabase,
	ServiceAccountKeys:    FamilyDatabase,
	ServiceAccountMatch:   FamilyDatabase,
	ServiceGuildFetch:     FamilyDatabase,
	ServiceUserFetch:      FamilyDatabase,
	ServiceDatabaseStatus: FamilyDatabase,
}

// ParseService normalizes name and reports whether it is a known service.
func ParseService(name string) (Service, bool) {
	s := Service(strings.ToLower(strings.TrimSpace(name)))
	_, ok := services[s]
	return s, ok
}

// Known reports whether s is a registered service.
func (s Service) Known() bool {
	_, ok := services[s]
	return ok
}

// Family returns the process family serving s.
func (s Service) Family() Family {
	return services[s]
}

func (s Service) String() string {
	return string(s)
}

func (f Family) String() string {
	switch f {
	case FamilyMarket:
		return "market"
	case FamilyDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// ParseFamily resolves a family by name.
func ParseFamily(name string) (Family, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "market":
		return FamilyMarket, true
	case "database":
		return FamilyDatabase, true
	default:
		return FamilyUnknown, false
	}
}

// Services lists every registered service of family f.
func Services(f Family) []Service {
	out := make([]Service, 0, len(services))
	for s, fam := range services {
		if fam == f {
			out = append(out, s)
		}
	}
	return out
}
