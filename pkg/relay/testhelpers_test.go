// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

const testGroup int64 = -1001000000001

// memEntry is one stored value with the TTL it was written with.
type memEntry struct {
	value []byte
	ttl   time.Duration
}

// memoryStore is an in-memory KeyValueStore for tests. TTLs are recorded
// for assertions, not enforced; tests that need expiry call expire().
type memoryStore struct {
	mu        sync.Mutex
	entries   map[string]memEntry
	listCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]memEntry)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

func (s *memoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries[key] = memEntry{value: cp, ttl: ttl}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memoryStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *memoryStore) ttlOf(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].ttl
}

func (s *memoryStore) expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *memoryStore) scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// gatewayCall records one outbound call for test assertions.
type gatewayCall struct {
	Method    string
	FromChat  int64
	Chat      int64
	Thread    int
	MessageID int
	Text      string
	Title     string
	Closed    bool
	UserID    int64
	Items     []MediaItem
}

// fakeGateway is a recording Gateway with per-method failure hooks.
type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall

	forwardFunc  func(fromChat int64, messageID int, toChat int64, toThread int) (*Delivery, error)
	createFunc   func(chat int64, title string) (int, error)
	profileFunc  func(userID int64) (*Profile, error)
	sendTextErr  error
	copyErr      error
	deleteErr    error
	setClosedErr error
	mediaErr     error

	nextThread    int
	nextMessageID int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextThread: 100, nextMessageID: 1000}
}

func (g *fakeGateway) record(call gatewayCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) callsOf(method string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) SendText(_ context.Context, chat int64, thread int, text string) error {
	g.record(gatewayCall{Method: "SendText", Chat: chat, Thread: thread, Text: text})
	return g.sendTextErr
}

func (g *fakeGateway) ForwardMessage(_ context.Context, fromChat int64, messageID int, toChat int64, toThread int) (*Delivery, error) {
	g.record(gatewayCall{Method: "ForwardMessage", FromChat: fromChat, MessageID: messageID, Chat: toChat, Thread: toThread})
	if g.forwardFunc != nil {
		return g.forwardFunc(fromChat, messageID, toChat, toThread)
	}
	g.mu.Lock()
	g.nextMessageID++
	id := g.nextMessageID
	g.mu.Unlock()
	return &Delivery{MessageID: id, Thread: toThread}, nil
}

func (g *fakeGateway) CopyMessage(_ context.Context, fromChat int64, messageID int, toChat int64, toThread int) error {
	g.record(gatewayCall{Method: "CopyMessage", FromChat: fromChat, MessageID: messageID, Chat: toChat, Thread: toThread})
	return g.copyErr
}

func (g *fakeGateway) CreateThread(_ context.Context, chat int64, title string) (int, error) {
	g.record(gatewayCall{Method: "CreateThread", Chat: chat, Title: title})
	if g.createFunc != nil {
		return g.createFunc(chat, title)
	}
	g.mu.Lock()
	id := g.nextThread
	g.nextThread++
	g.mu.Unlock()
	return id, nil
}

func (g *fakeGateway) SetThreadClosed(_ context.Context, chat int64, thread int, closed bool) error {
	g.record(gatewayCall{Method: "SetThreadClosed", Chat: chat, Thread: thread, Closed: closed})
	return g.setClosedErr
}

func (g *fakeGateway) DeleteMessage(_ context.Context, chat int64, messageID int) error {
	g.record(gatewayCall{Method: "DeleteMessage", Chat: chat, MessageID: messageID})
	return g.deleteErr
}

func (g *fakeGateway) SendMediaBatch(_ context.Context, chat int64, thread int, items []MediaItem) error {
	cp := make([]MediaItem, len(items))
	copy(cp, items)
	g.record(gatewayCall{Method: "SendMediaBatch", Chat: chat, Thread: thread, Items: cp})
	return g.mediaErr
}

func (g *fakeGateway) GetUserProfile(_ context.Context, userID int64) (*Profile, error) {
	g.record(gatewayCall{Method: "GetUserProfile", UserID: userID})
	if g.profileFunc != nil {
		return g.profileFunc(userID)
	}
	return &Profile{FirstName: "Alice", Username: "alice"}, nil
}

var _ Gateway = (*fakeGateway)(nil)

// testRig assembles the full component graph on in-memory fakes.
type testRig struct {
	store    *memoryStore
	gw       *fakeGateway
	registry *ThreadRegistry
	albums   *AlbumAggregator
	admin    *AdminCommandProcessor
	engine   *RelayEngine
	dispatch *Dispatcher
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store := newMemoryStore()
	gw := newFakeGateway()
	log := zerolog.Nop()
	registry := NewThreadRegistry(store, log)
	albums := NewAlbumAggregator(store, gw, 5*time.Millisecond, time.Minute, log)
	admin := NewAdminCommandProcessor(gw, registry, testGroup, log)
	engine := NewRelayEngine(gw, registry, albums, admin, testGroup, false, log)
	return &testRig{
		store:    store,
		gw:       gw,
		registry: registry,
		albums:   albums,
		admin:    admin,
		engine:   engine,
		dispatch: NewDispatcher(engine, testGroup, log),
	}
}

func privateMessage(userID int64, messageID int, text string) *models.Message {
	return &models.Message{
		ID:   messageID,
		Chat: models.Chat{ID: userID, Type: models.ChatTypePrivate},
		From: &models.User{ID: userID, FirstName: "Alice", Username: "alice"},
		Text: text,
	}
}

func privatePhoto(userID int64, messageID int, groupID, fileID, caption string) *models.Message {
	msg := privateMessage(userID, messageID, "")
	msg.MediaGroupID = groupID
	msg.Caption = caption
	msg.Photo = []models.PhotoSize{
		{FileID: fileID + "-small"},
		{FileID: fileID},
	}
	return msg
}

func topicMessage(threadID, messageID int, text string) *models.Message {
	return &models.Message{
		ID:              messageID,
		Chat:            models.Chat{ID: testGroup, Type: models.ChatTypeSupergroup},
		From:            &models.User{ID: 900, FirstName: "Op"},
		MessageThreadID: threadID,
		Text:            text,
	}
}

// seedRecord writes a mapping directly through the registry.
func (r *testRig) seedRecord(t *testing.T, userID int64, threadID int, closed bool) {
	t.Helper()
	err := r.registry.Upsert(context.Background(), userID, &ThreadRecord{
		ThreadID: threadID,
		Title:    "Alice @alice",
		Closed:   closed,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
}
