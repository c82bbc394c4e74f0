// Package userdata holds the small per-user collections that need no logic
// beyond the base store: accesses, webhooks, profile sets and followed
// slices.
package userdata

import (
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/convert"
)

// Collection names.
const (
	AccessesName       = "accesses"
	WebhooksName       = "webhooks"
	ProfileName        = "profile"
	FollowedSlicesName = "followedSlices"
)

func asc(fields ...string) []storage.IndexKey {
	keys := make([]storage.IndexKey, len(fields))
	for i, f := range fields {
		keys[i] = storage.IndexKey{Field: f, Direction: storage.Ascending}
	}
	return keys
}

// AccessesCollection describes the accesses collection. Tokens are unique
// per user, and so are access names among live accesses.
func AccessesCollection() storage.Collection {
	return storage.Collection{
		Name:         AccessesName,
		PartitionKey: storage.FieldUserID,
		Indexes: []storage.Index{
			{Name: "token", Keys: asc("token"), Unique: true, Partial: storage.Exists{Field: "token", Exists: true}},
			{Name: "name", Keys: asc("type", "name"), Unique: true, Partial: storage.Exists{Field: "name", Exists: true}},
			{Name: "deleted", Keys: asc(storage.FieldDeleted), Partial: storage.Exists{Field: storage.FieldDeleted, Exists: true}},
		},
	}
}

// WebhooksCollection describes the webhooks collection.
func WebhooksCollection() storage.Collection {
	return storage.Collection{
		Name:         WebhooksName,
		PartitionKey: storage.FieldUserID,
		Indexes: []storage.Index{
			{Name: "accessId", Keys: asc("accessId")},
			{Name: "url", Keys: asc("accessId", "url"), Unique: true, Partial: storage.Exists{Field: "url", Exists: true}},
		},
	}
}

// ProfileCollection describes the profile sets. Each set is a document whose
// id names it, e.g. "public" or "private".
func ProfileCollection() storage.Collection {
	return storage.Collection{Name: ProfileName, PartitionKey: storage.FieldUserID}
}

// FollowedSlicesCollection describes the followed slices collection.
func FollowedSlicesCollection() storage.Collection {
	return storage.Collection{
		Name:         FollowedSlicesName,
		PartitionKey: storage.FieldUserID,
		Indexes: []storage.Index{
			{Name: "name", Keys: asc("name"), Unique: true},
			{Name: "source", Keys: asc("url", "accessToken"), Unique: true},
		},
	}
}

// Accesses creates the accesses store. Deleting an access keeps its token
// and name so that neither can be reused.
func Accesses(driver storage.Driver, opts ...collection.Option) *collection.Store {
	return collection.New(AccessesCollection(), driver, convert.Default(), opts...)
}

// Webhooks creates the webhooks store.
func Webhooks(driver storage.Driver, opts ...collection.Option) *collection.Store {
	opts = append([]collection.Option{collection.WithTombstone(collection.DefaultTombstone("url"))}, opts...)
	return collection.New(WebhooksCollection(), driver, convert.Default(), opts...)
}

// Profile creates the profile store.
func Profile(driver storage.Driver, opts ...collection.Option) *collection.Store {
	return collection.New(ProfileCollection(), driver, convert.Default(), opts...)
}

// FollowedSlices creates the followed slices store.
func FollowedSlices(driver storage.Driver, opts ...collection.Option) *collection.Store {
	return collection.New(FollowedSlicesCollection(), driver, convert.Default(), opts...)
}
