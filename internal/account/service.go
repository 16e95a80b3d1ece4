package account

import (
	"context"
	"fmt"

	"github.com/westonnelson/Alpha-sub001/internal/codec"
	"github.com/westonnelson/Alpha-sub001/internal/mirror"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/internal/worker"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
)

// Mirrored collection names.
const (
	Accounts = "accounts"
	Guilds   = "guilds"
	Users    = "users"

	// AccountLink is the account property holding the linked chat user id.
	AccountLink = "oauth.discord.userId"

	diagNotReady = "database not ready"
)

// Collections returns the mirror layout the account service reads.
func Collections(policy mirror.ReadyPolicy) []mirror.CollectionConfig {
	return []mirror.CollectionConfig{
		{Name: Accounts, Link: AccountLink, Policy: policy},
		{Name: Guilds, Policy: policy},
		{Name: Users, Policy: policy},
	}
}

// FetchRequest looks a document up by id.
type FetchRequest struct {
	ID string `msgpack:"id"`
}

// MatchRequest resolves a chat user id to its linked account.
type MatchRequest struct {
	UserID string `msgpack:"user_id"`
}

// Document is a mirrored record as returned to callers.
type Document struct {
	ID         string         `msgpack:"id"`
	Properties map[string]any `msgpack:"properties"`
}

// Status reports mirror readiness.
type Status struct {
	Ready   bool           `msgpack:"ready"`
	Pending []string       `msgpack:"pending"`
	Counts  map[string]int `msgpack:"counts"`
}

// Service answers account lookups from the mirrored store.
type Service struct {
	store *mirror.Store
}

// NewService creates a service over store, which must hold Collections.
func NewService(store *mirror.Store) (*Service, error) {
	if store == nil {
		return nil, exception.ErrNilInstance
	}
	for _, name := range []string{Accounts, Guilds, Users} {
		if _, ok := store.Collection(name); !ok {
			return nil, fmt.Errorf("%w: %s", exception.ErrUnknownCollection, name)
		}
	}
	return &Service{store: store}, nil
}

// Handlers returns the dispatch table for a worker pool.
func (s *Service) Handlers() worker.Handlers {
	return worker.Handlers{
		schema.ServiceAccountFetch:   s.fetchFrom(Accounts),
		schema.ServiceGuildFetch:     s.fetchFrom(Guilds),
		schema.ServiceUserFetch:      s.fetchFrom(Users),
		schema.ServiceAccountKeys:    s.handleKeys,
		schema.ServiceAccountMatch:   s.handleMatch,
		schema.ServiceDatabaseStatus: s.handleStatus,
	}
}

func (s *Service) fetchFrom(collection string) worker.Handler {
	return func(_ context.Context, req codec.Request) (any, string, error) {
		if !s.store.IsReady() {
			return nil, diagNotReady, nil
		}
		var r FetchRequest
		if err := req.Bind(&r); err != nil {
			return nil, "", err
		}
		rec, ok := s.store.Get(collection, r.ID)
		if !ok {
			return nil, "", nil
		}
		return document(rec), "", nil
	}
}

func (s *Service) handleKeys(_ context.Context, _ codec.Request) (any, string, error) {
	if !s.store.IsReady() {
		return nil, diagNotReady, nil
	}
	c, _ := s.store.Collection(Accounts)
	return c.Keys(), "", nil
}

func (s *Service) handleMatch(_ context.Context, req codec.Request) (any, string, error) {
	if !s.store.IsReady() {
		return nil, diagNotReady, nil
	}
	var r MatchRequest
	if err := req.Bind(&r); err != nil {
		return nil, "", err
	}
	c, _ := s.store.Collection(Accounts)
	id, ok := c.Match(r.UserID)
	if !ok {
		return nil, "", nil
	}
	rec, ok := c.Get(id)
	if !ok {
		return nil, "", nil
	}
	return document(rec), "", nil
}

func (s *Service) handleStatus(_ context.Context, _ codec.Request) (any, string, error) {
	st := Status{
		Ready:   s.store.IsReady(),
		Pending: s.store.Pending(),
		Counts:  make(map[string]int),
	}
	for _, name := range s.store.Names() {
		c, _ := s.store.Collection(name)
		st.Counts[name] = c.Len()
	}
	return st, "", nil
}

func document(r mirror.Record) Document {
	return Document{ID: r.ID, Properties: r.Properties}
}
