// Package redisstore persists the channel-URI set as a native Redis Set,
// so the tracked URIs are visible directly to redis-cli as SMEMBERS
// rather than hidden inside one serialized blob value.
package redisstore

import (
	"github.com/gomodule/redigo/redis"
)

// setKey is the single Redis key holding the channel-URI set.
const setKey = "cachechannel:channels"

// Store is a persistence.Store backed by a Redis Set.
type Store struct {
	conn redis.Conn
}

// New dials addr (host:port) and returns a Store backed by that
// connection.
func New(addr string) (*Store, error) {
	conn, err := redis.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewWithClient(conn), nil
}

// NewWithClient returns a Store using the given redis connection.
func NewWithClient(conn redis.Conn) *Store {
	return &Store{conn: conn}
}

func (s *Store) Load() ([]string, error) {
	uris, err := redis.Strings(s.conn.Do("SMEMBERS", setKey))
	if err == redis.ErrNil {
		return nil, nil
	}
	return uris, err
}

func (s *Store) Save(uris []string) error {
	current, err := redis.Strings(s.conn.Do("SMEMBERS", setKey))
	if err != nil && err != redis.ErrNil {
		return err
	}

	want := make(map[string]bool, len(uris))
	for _, uri := range uris {
		want[uri] = true
	}
	have := make(map[string]bool, len(current))
	for _, uri := range current {
		have[uri] = true
	}

	for _, uri := range current {
		if !want[uri] {
			if _, err := s.conn.Do("SREM", setKey, uri); err != nil {
				return err
			}
		}
	}
	for _, uri := range uris {
		if !have[uri] {
			if _, err := s.conn.Do("SADD", setKey, uri); err != nil {
				return err
			}
		}
	}
	return nil
}
