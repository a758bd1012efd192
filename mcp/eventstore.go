// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/mcp/internal/jsonrpc2"
)

// EventStore is the resumability contract the Streamable HTTP server
// transport calls into (design note in SPEC_FULL.md §9: "the engine never
// persists"). StoreEvent records msg as the next event on streamID and
// returns its assigned id. ReplayEventsAfter locates the stream
// containing afterID and calls send for every later event on that
// stream, in order, returning the stream id it replayed.
type EventStore interface {
	StoreEvent(ctx context.Context, streamID string, msg jsonrpc2.Message) (eventID string, err error)
	ReplayEventsAfter(ctx context.Context, afterID string, send func(eventID string, msg jsonrpc2.Message) error) (streamID string, err error)
}

type storedEvent struct {
	id  uint64
	msg jsonrpc2.Message
	raw []byte
}

// MemoryEventStore is the default EventStore: a bounded ring buffer of
// recent events per stream, lost on restart.
type MemoryEventStore struct {
	maxPerStream int

	mu      sync.Mutex
	streams map[string][]storedEvent
	index   map[uint64]string // global event id -> owning stream
	nextID  uint64
}

// NewMemoryEventStore returns a MemoryEventStore retaining up to
// maxPerStream events per stream (0 means use a sensible default of
// 1000).
func NewMemoryEventStore(maxPerStream int) *MemoryEventStore {
	if maxPerStream <= 0 {
		maxPerStream = 1000
	}
	return &MemoryEventStore{
		maxPerStream: maxPerStream,
		streams:      make(map[string][]storedEvent),
		index:        make(map[uint64]string),
	}
}

func (s *MemoryEventStore) StoreEvent(ctx context.Context, streamID string, msg jsonrpc2.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	evs := append(s.streams[streamID], storedEvent{id: id, msg: msg})
	if len(evs) > s.maxPerStream {
		evicted := evs[0]
		delete(s.index, evicted.id)
		evs = evs[1:]
	}
	s.streams[streamID] = evs
	s.index[id] = streamID
	return eventIDString(id), nil
}

func (s *MemoryEventStore) ReplayEventsAfter(ctx context.Context, afterID string, send func(string, jsonrpc2.Message) error) (string, error) {
	after, err := parseEventID(afterID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	streamID, ok := s.index[after]
	var toSend []storedEvent
	if ok {
		for _, ev := range s.streams[streamID] {
			if ev.id > after {
				toSend = append(toSend, ev)
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mcp: no stream contains event id %q", afterID)
	}
	for _, ev := range toSend {
		if err := send(eventIDString(ev.id), ev.msg); err != nil {
			return streamID, err
		}
	}
	return streamID, nil
}

func eventIDString(id uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return fmt.Sprintf("%x", b)
}

func parseEventID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(s, "%x", &id); err != nil {
		return 0, fmt.Errorf("mcp: malformed event id %q: %w", s, err)
	}
	return id, nil
}

// BadgerEventStore is an EventStore backed by an embedded Badger key-value
// store, so resumability survives a server restart. Keys are
// big-endian-encoded (streamID length prefix + streamID + event id) so
// that a stream's events sort contiguously and in order within Badger's
// own key ordering.
type BadgerEventStore struct {
	db     *badger.DB
	mu     sync.Mutex
	nextID uint64
}

// OpenBadgerEventStore opens (creating if necessary) a Badger database at
// dir for use as a persistent EventStore.
func OpenBadgerEventStore(dir string) (*BadgerEventStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger event store at %q: %w", dir, err)
	}
	return &BadgerEventStore{db: db}, nil
}

func (s *BadgerEventStore) Close() error { return s.db.Close() }

func badgerKey(streamID string, id uint64) []byte {
	key := make([]byte, 2+len(streamID)+8)
	binary.BigEndian.PutUint16(key, uint16(len(streamID)))
	copy(key[2:], streamID)
	binary.BigEndian.PutUint64(key[2+len(streamID):], id)
	return key
}

func parseBadgerKey(k []byte) (streamID string, id uint64, ok bool) {
	if len(k) < 2 {
		return "", 0, false
	}
	slen := int(binary.BigEndian.Uint16(k))
	if 2+slen+8 != len(k) {
		return "", 0, false
	}
	return string(k[2 : 2+slen]), binary.BigEndian.Uint64(k[2+slen:]), true
}

func (s *BadgerEventStore) StoreEvent(ctx context.Context, streamID string, msg jsonrpc2.Message) (string, error) {
	raw, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	key := badgerKey(streamID, id)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	}); err != nil {
		return "", fmt.Errorf("storing event: %w", err)
	}
	return eventIDString(id), nil
}

func (s *BadgerEventStore) ReplayEventsAfter(ctx context.Context, afterID string, send func(string, jsonrpc2.Message) error) (string, error) {
	after, err := parseEventID(afterID)
	if err != nil {
		return "", err
	}
	var streamID string
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			sid, id, ok := parseBadgerKey(k)
			if ok && id == after {
				streamID = sid
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("replaying events: %w", err)
	}
	if streamID == "" {
		return "", fmt.Errorf("mcp: no stream contains event id %q", afterID)
	}

	var pending [][]byte
	var pendingIDs []uint64
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := badgerKey(streamID, 0)[:2+len(streamID)]
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			_, id, ok := parseBadgerKey(item.KeyCopy(nil))
			if !ok || id <= after {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pending = append(pending, val)
			pendingIDs = append(pendingIDs, id)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading replay events: %w", err)
	}
	for i, raw := range pending {
		msg, err := jsonrpc2.DecodeMessage(raw)
		if err != nil {
			return streamID, fmt.Errorf("decoding replayed event %d: %w", i, err)
		}
		if err := send(eventIDString(pendingIDs[i]), msg); err != nil {
			return streamID, err
		}
	}
	return streamID, nil
}
