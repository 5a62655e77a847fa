// Package leveldbstore persists the channel-URI set in a LevelDB
// database, one key per URI under a fixed prefix (the key holds the
// full URI; the value is unused). Load/Save operate as a prefix scan
// and batched diff, not a single serialized blob.
package leveldbstore

import (
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const keyPrefix = "channel:"

// Store is a persistence.Store backed by LevelDB.
type Store struct {
	db *leveldb.DB
}

// New opens (or creates) a LevelDB database at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB returns a Store using the provided LevelDB handle.
func NewWithDB(db *leveldb.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Load() ([]string, error) {
	var uris []string
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		uris = append(uris, strings.TrimPrefix(string(iter.Key()), keyPrefix))
	}
	return uris, iter.Error()
}

func (s *Store) Save(uris []string) error {
	want := make(map[string]bool, len(uris))
	for _, uri := range uris {
		want[uri] = true
	}

	var stale [][]byte
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	for iter.Next() {
		uri := strings.TrimPrefix(string(iter.Key()), keyPrefix)
		if !want[uri] {
			stale = append(stale, append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for _, key := range stale {
		batch.Delete(key)
	}
	for _, uri := range uris {
		batch.Put([]byte(keyPrefix+uri), nil)
	}
	return s.db.Write(batch, nil)
}
