// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package patricia

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDbStore is a persistent Store backed by a LevelDB instance. Roots
// flushed into it can be re-opened across process restarts.
type LevelDbStore struct {
	db *leveldb.DB
}

// OpenLevelDbStore opens (or creates) a LevelDB-backed store in the given
// directory. The store must be closed when no longer needed.
func OpenLevelDbStore(directory string) (*LevelDbStore, error) {
	db, err := leveldb.OpenFile(directory, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDbStore{db: db}, nil
}

func (s *LevelDbStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *LevelDbStore) Put(key []byte, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelDbStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *LevelDbStore) Close() error {
	return s.db.Close()
}
