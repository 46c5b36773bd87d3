package store

import (
	"fmt"

	"gorm.io/gorm"

	"partsfeed/pkg/records"
)

// Entity is any catalog row type; satisfied by pointers to structs embedding
// catalog.Model.
type Entity interface {
	GetID() uint
}

// Scope narrows a query to the candidate universe for one upsert pass, e.g.
// "models with these names under these make ids". The same scope runs again
// after a bulk create to pick up database-generated ids.
type Scope func(tx *gorm.DB) *gorm.DB

// Retriever is the keyed bulk get-or-create primitive. It builds a
// key → id lookup once from the scoped query, creates every missing candidate
// with a single bulk insert, then rebuilds the lookup so callers always see
// ids for the full candidate set.
//
// Instances are single-use per batch and assume single-writer execution; a
// concurrent writer racing the bulk insert surfaces as a constraint error
// which the caller escalates to the job runner.
type Retriever[T Entity] struct {
	scope   Scope
	keyOf   func(T) records.Key
	lookup  map[records.Key]uint
	created int
}

func NewRetriever[T Entity](scope Scope, keyOf func(T) records.Key) *Retriever[T] {
	return &Retriever[T]{scope: scope, keyOf: keyOf}
}

func (r *Retriever[T]) buildLookup(tx *gorm.DB) error {
	var rows []T
	if err := r.scope(tx).Find(&rows).Error; err != nil {
		return fmt.Errorf("store: retriever query: %w", err)
	}
	r.lookup = make(map[records.Key]uint, len(rows))
	for _, row := range rows {
		r.lookup[r.keyOf(row)] = row.GetID()
	}
	return nil
}

// Lookup returns the key → id map for the scoped universe, building it
// lazily on first use.
func (r *Retriever[T]) Lookup(tx *gorm.DB) (map[records.Key]uint, error) {
	if r.lookup == nil {
		if err := r.buildLookup(tx); err != nil {
			return nil, err
		}
	}
	return r.lookup, nil
}

// Get returns the id for one key, or 0 if unseen.
func (r *Retriever[T]) Get(tx *gorm.DB, key records.Key) (uint, error) {
	lookup, err := r.Lookup(tx)
	if err != nil {
		return 0, err
	}
	return lookup[key], nil
}

// BulkGetOrCreate resolves every candidate key to a row id, creating missing
// rows with exactly one bulk insert. The returned map covers at least the
// candidate keys; it is the rebuilt lookup for the whole scope.
func (r *Retriever[T]) BulkGetOrCreate(tx *gorm.DB, candidates map[records.Key]T) (map[records.Key]uint, error) {
	lookup, err := r.Lookup(tx)
	if err != nil {
		return nil, err
	}

	var missing []T
	for key, candidate := range candidates {
		if _, ok := lookup[key]; !ok {
			missing = append(missing, candidate)
		}
	}
	if len(missing) > 0 {
		if err := tx.Create(&missing).Error; err != nil {
			return nil, fmt.Errorf("store: bulk create: %w", err)
		}
		r.created += len(missing)
		// Requery instead of trusting driver-returned ids; the fresh scope
		// also covers rows created by this same transaction.
		if err := r.buildLookup(tx); err != nil {
			return nil, err
		}
		lookup = r.lookup
	}

	for key := range candidates {
		if _, ok := lookup[key]; !ok {
			return nil, fmt.Errorf("store: key %q missing after bulk create; scope does not cover its candidate", string(key))
		}
	}
	return lookup, nil
}

// Created reports how many rows this retriever inserted.
func (r *Retriever[T]) Created() int { return r.created }
