// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	dgbadger "github.com/dgraph-io/badger/v4"
)

func zooidKey(id string) []byte {
	return []byte(keyZooid + id)
}

// PutZooid writes a zooid record, creating or overwriting it. Retired
// zooids stay in the registry; there is no delete operation.
func (s *Store) PutZooid(ctx context.Context, z *datatypes.Zooid) error {
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		return putJSON(txn, zooidKey(z.ID), z)
	})
}

// GetZooid returns the zooid with the given id, or ErrNotFound.
func (s *Store) GetZooid(ctx context.Context, id string) (*datatypes.Zooid, error) {
	z := &datatypes.Zooid{}
	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, zooidKey(id), z)
	})
	if err != nil {
		return nil, err
	}
	return z, nil
}

// ListZooids returns every zooid in the registry, ordered by id.
func (s *Store) ListZooids(ctx context.Context) ([]*datatypes.Zooid, error) {
	var zooids []*datatypes.Zooid

	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyZooid)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			z := &datatypes.Zooid{}
			err := it.Item().Value(func(val []byte) error {
				return decodeRecord(val, z, it.Item().Key())
			})
			if err != nil {
				return err
			}
			zooids = append(zooids, z)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zooids, nil
}

// UpdateZooid applies fn to the stored zooid in a single transaction and
// persists the result. Lifecycle transitions go through here so that
// concurrent evaluators cannot interleave read-modify-write cycles.
func (s *Store) UpdateZooid(ctx context.Context, id string, fn func(*datatypes.Zooid) error) (*datatypes.Zooid, error) {
	z := &datatypes.Zooid{}
	err := s.update(ctx, func(txn *dgbadger.Txn) error {
		if err := getJSON(txn, zooidKey(id), z); err != nil {
			return err
		}
		if err := fn(z); err != nil {
			return err
		}
		return putJSON(txn, zooidKey(id), z)
	})
	if err != nil {
		return nil, err
	}
	return z, nil
}
