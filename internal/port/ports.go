// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/conectados/conectados-api/internal/domain"
)

// Table names known to the record store.
const (
	TableMembers        = "members"
	TableFriends        = "friends"
	TableCampaigns      = "campaigns"
	TablePlans          = "plans"
	TableUserLinks      = "user_links"
	TableAuthUsers      = "auth_users"
	TableUsers          = "users"
	TableSystemSettings = "system_settings"
)

// RPCUpdateCompleteRanking recomputes ranking positions for every member.
const RPCUpdateCompleteRanking = "update_complete_ranking"

// RecordStore is the request/response interface of the managed relational store.
// Rows are JSON-shaped: Select and Insert decode results into dest (a pointer to a slice).
type RecordStore interface {
	// Select decodes matching rows into dest and returns the total count when q.Count is set
	// (otherwise the number of returned rows).
	Select(ctx context.Context, table string, q Query, dest any) (int, error)
	// Insert writes rows (a map, struct, or slice of them) and decodes the stored rows into dest when non-nil.
	Insert(ctx context.Context, table string, rows any, dest any) error
	// Update applies data to rows matching filters.
	Update(ctx context.Context, table string, data map[string]any, filters ...Filter) error
	// Delete removes rows matching filters.
	Delete(ctx context.Context, table string, filters ...Filter) error
	// RPC invokes a stored procedure and decodes its result into dest when non-nil.
	RPC(ctx context.Context, function string, params map[string]any, dest any) error
}

// PostalLookup resolves a CEP into city and sector.
type PostalLookup interface {
	Lookup(ctx context.Context, cep string) (*domain.PostalAddress, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
