package quickreply

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"

	"ticket-sync-engine/internal/model"
)

// Store is the local persistence behind fallback mode. It is only opened
// after the remote has answered feature_not_found.
type Store interface {
	List() ([]model.CannedReply, error)
	Put(reply model.CannedReply) error
	Delete(id int64) error
	Close() error
}

// PebbleStore keeps one user's canned replies in an embedded pebble DB.
// Key format: reply:<userID>:<id zero-padded> so iteration yields id order.
type PebbleStore struct {
	db     *pebble.DB
	userID string
}

func OpenPebbleStore(path, userID string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("quickreply store: open %s: %w", path, err)
	}
	return &PebbleStore{db: db, userID: userID}, nil
}

func (s *PebbleStore) key(id int64) []byte {
	return []byte(fmt.Sprintf("reply:%s:%020d", s.userID, id))
}

func (s *PebbleStore) prefix() []byte {
	return []byte(fmt.Sprintf("reply:%s:", s.userID))
}

func (s *PebbleStore) List() ([]model.CannedReply, error) {
	prefix := s.prefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("quickreply store: iterator: %w", err)
	}
	defer iter.Close()

	var replies []model.CannedReply
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			continue
		}
		var reply model.CannedReply
		if err := json.Unmarshal(iter.Value(), &reply); err != nil {
			return nil, fmt.Errorf("quickreply store: decode %s: %w", iter.Key(), err)
		}
		replies = append(replies, reply)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("quickreply store: iterate: %w", err)
	}

	sort.Slice(replies, func(i, j int) bool { return replies[i].ID < replies[j].ID })
	return replies, nil
}

func (s *PebbleStore) Put(reply model.CannedReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("quickreply store: encode reply %d: %w", reply.ID, err)
	}
	if err := s.db.Set(s.key(reply.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("quickreply store: put reply %d: %w", reply.ID, err)
	}
	return nil
}

func (s *PebbleStore) Delete(id int64) error {
	if err := s.db.Delete(s.key(id), pebble.Sync); err != nil {
		return fmt.Errorf("quickreply store: delete reply %d: %w", id, err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PebbleStore)(nil)
