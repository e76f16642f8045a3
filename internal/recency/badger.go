package recency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
)

// BadgerStore keeps recency lists in a local badger database, one key per
// user. It is the on-disk analogue of the browser client's localStorage
// entry.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("recency: open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Save(ctx context.Context, userID string, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("recency: marshal entries: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(userID), data)
	})
}

func (s *BadgerStore) Load(ctx context.Context, userID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entries)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recency: load entries: %w", err)
	}
	return entries, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func key(userID string) []byte {
	return []byte("recently-viewed-chats:" + userID)
}
