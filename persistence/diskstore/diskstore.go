// Package diskstore persists the channel-URI set to disk via diskv, one
// file per URI. Unlike a single serialized blob, the tracked set is
// visible directly as the directory's key space: Load lists every key,
// Save erases the keys of URIs no longer in the desired set and writes
// every URI that is in it.
package diskstore

import (
	"crypto/md5"
	"encoding/hex"
	"sort"

	"github.com/peterbourgon/diskv/v3"
)

// Store is a persistence.Store backed by a diskv directory.
type Store struct {
	d *diskv.Diskv
}

// New returns a Store that keeps one file per channel URI under
// basePath.
func New(basePath string) *Store {
	return &Store{d: diskv.New(diskv.Options{
		BasePath:     basePath,
		CacheSizeMax: 1024 * 1024,
	})}
}

// NewWithDiskv returns a Store using the provided Diskv as underlying
// storage.
func NewWithDiskv(d *diskv.Diskv) *Store {
	return &Store{d: d}
}

// keyFor derives a filesystem-safe diskv key from a URI. The URI itself
// is kept as the value so Load can recover it without a reverse index.
func keyFor(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])
}

func (s *Store) Load() ([]string, error) {
	var uris []string
	for key := range s.d.Keys(nil) {
		data, err := s.d.Read(key)
		if err != nil {
			continue
		}
		uris = append(uris, string(data))
	}
	sort.Strings(uris)
	return uris, nil
}

func (s *Store) Save(uris []string) error {
	want := make(map[string]string, len(uris))
	for _, uri := range uris {
		want[keyFor(uri)] = uri
	}

	for key := range s.d.Keys(nil) {
		if _, ok := want[key]; !ok {
			if err := s.d.Erase(key); err != nil {
				return err
			}
		}
	}
	for key, uri := range want {
		if err := s.d.Write(key, []byte(uri)); err != nil {
			return err
		}
	}
	return nil
}
