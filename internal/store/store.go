// Package store holds the in-memory conversation state the UI renders and
// keeps it consistent with the active storage provider under optimistic,
// non-blocking mutation. Every cache change goes through a Store method and
// publishes on the notification bus.
package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"parley/internal/events"
	"parley/internal/models"
	"parley/internal/storage"
)

// DefaultChatTitle names chats that have no derived title yet.
const DefaultChatTitle = "New Chat"

// Store is the single source of truth for chats, messages, projects,
// settings and the user profile. The mutex guards the cache and is never
// held across provider calls: logical operations interleave at I/O
// boundaries while cache access stays atomic.
type Store struct {
	provider func() storage.Provider
	bus      *events.Bus

	mu sync.Mutex
	// generation bumps on every full cache reset so background work that
	// settles afterwards skips its cache write-back.
	generation uint64

	chats     []*models.Chat
	chatIndex map[string]*models.Chat
	// loaded marks chats whose message history is cached.
	loaded   map[string]bool
	projects []models.Project
	settings *models.Settings
	user     *models.User

	currentChatID    string
	currentProjectID string
	chatOffset       int
	hasMoreChats     bool

	// inflightLoads de-duplicates concurrent message loads per chat id;
	// entries leave the map when the load settles.
	inflightLoads map[string]*inflightLoad
	// pendingChats holds the one-shot resolution futures of chats whose
	// durable create is in flight, keyed by temporary id. An entry is
	// removed the moment it resolves.
	pendingChats map[string]*pendingChat
	// resolvedIDs maps temporary ids to durable ids after the swap, for
	// work that looks up after the future is gone.
	resolvedIDs map[string]string
	// persistQueues serializes background writes per chat so persistence
	// order matches append order. Re-keyed when a temporary id resolves.
	persistQueues map[string]*persistQueue
}

type inflightLoad struct {
	done chan struct{}
	err  error
}

type pendingChat struct {
	done chan struct{}
	// id is the durable id, or the temporary id itself when the durable
	// create failed. Written before done closes.
	id string
}

type persistQueue struct {
	key  string
	tail chan struct{}
}

func New(provider func() storage.Provider, bus *events.Bus) *Store {
	return &Store{
		provider:      provider,
		bus:           bus,
		chatIndex:     make(map[string]*models.Chat),
		loaded:        make(map[string]bool),
		inflightLoads: make(map[string]*inflightLoad),
		pendingChats:  make(map[string]*pendingChat),
		resolvedIDs:   make(map[string]string),
		persistQueues: make(map[string]*persistQueue),
	}
}

// Initialize loads the session state: user, settings, projects and the
// first chat page, then selects the most recent chat, creating an empty one
// when none exist. Any prior cache is discarded, so it also serves
// re-initialization after an import.
func (s *Store) Initialize(ctx context.Context) error {
	p := s.provider()

	user, err := p.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	settings, err := p.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	projects, err := p.GetProjects(ctx)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	page, err := p.GetChats(ctx, storage.ListOptions{Limit: storage.DefaultPageSize})
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}

	s.mu.Lock()
	s.resetLocked()
	s.user = user
	s.settings = settings
	s.projects = projects
	for i := range page.Chats {
		c := page.Chats[i]
		s.chats = append(s.chats, &c)
		s.chatIndex[c.ID] = &c
	}
	s.chatOffset = len(page.Chats)
	s.hasMoreChats = page.HasMore
	currentID := ""
	if len(s.chats) > 0 {
		currentID = s.chats[0].ID
		s.currentChatID = currentID
	}
	s.mu.Unlock()

	if currentID == "" {
		s.CreateChat(ctx, DefaultChatTitle, nil)
		return nil
	}

	s.bus.Publish(events.ChatSelected, currentID)
	if err := s.LoadMessages(ctx, currentID); err != nil {
		log.Printf("store: loading messages for %s: %v", currentID, err)
	}
	return nil
}

// resetLocked discards the cache. Pending chat futures and persist queues
// stay: in-flight background work must still resolve and drain, and the
// generation bump keeps it from touching the new cache.
func (s *Store) resetLocked() {
	s.generation++
	s.chats = nil
	s.chatIndex = make(map[string]*models.Chat)
	s.loaded = make(map[string]bool)
	s.projects = nil
	s.settings = nil
	s.user = nil
	s.currentChatID = ""
	s.currentProjectID = ""
	s.chatOffset = 0
	s.hasMoreChats = false
	s.inflightLoads = make(map[string]*inflightLoad)
}

// Chats returns the cached chat list in display order, most recent first.
func (s *Store) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, cloneChat(c))
	}
	return out
}

// Chat returns a copy of one cached chat.
func (s *Store) Chat(chatID string) (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chatIndex[s.aliasLocked(chatID)]
	if c == nil {
		return models.Chat{}, false
	}
	return cloneChat(c), true
}

// CurrentChat returns a copy of the current chat, nil when none is
// selected yet.
func (s *Store) CurrentChat() *models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chatIndex[s.currentChatID]
	if c == nil {
		return nil
	}
	out := cloneChat(c)
	return &out
}

func (s *Store) CurrentChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChatID
}

func (s *Store) CurrentProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentProjectID
}

func (s *Store) HasMoreChats() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMoreChats
}

// Projects returns the cached project list.
func (s *Store) Projects() []models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Project(nil), s.projects...)
}

// Settings returns a copy of the cached settings, nil before Initialize.
func (s *Store) Settings() *models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil
	}
	out := *s.settings
	out.EnabledModels = append([]string(nil), s.settings.EnabledModels...)
	return &out
}

// User returns a copy of the cached profile, nil before Initialize.
func (s *Store) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	out := *s.user
	return &out
}

// aliasLocked follows a swapped temporary id to its durable id. Callers
// hold mu.
func (s *Store) aliasLocked(id string) string {
	if durable, ok := s.resolvedIDs[id]; ok {
		return durable
	}
	return id
}

// awaitDurableID blocks until chatID is safe to hand to the provider: when
// the chat's durable create is still pending it waits on the resolution
// future, otherwise it maps a swapped temporary id to its durable value.
func (s *Store) awaitDurableID(ctx context.Context, chatID string) (string, error) {
	s.mu.Lock()
	pending := s.pendingChats[chatID]
	if pending == nil {
		id := s.aliasLocked(chatID)
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	select {
	case <-pending.done:
		return pending.id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// enqueuePersist runs task on the chat's FIFO persist queue so writes land
// in append order. Failures are logged here; the returned channel carries
// the result for callers that opted into waiting.
func (s *Store) enqueuePersist(chatID string, task func() error) <-chan error {
	result := make(chan error, 1)

	s.mu.Lock()
	key := s.aliasLocked(chatID)
	q := s.persistQueues[key]
	if q == nil {
		q = &persistQueue{key: key}
		s.persistQueues[key] = q
	}
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		err := task()
		if err != nil {
			log.Printf("store: background persist: %v", err)
		}
		result <- err

		s.mu.Lock()
		if s.persistQueues[q.key] == q && q.tail == done {
			delete(s.persistQueues, q.key)
		}
		s.mu.Unlock()
	}()

	return result
}

// bumpChatLocked moves the chat to the front of the display order. Callers
// hold mu.
func (s *Store) bumpChatLocked(chat *models.Chat) {
	for i, c := range s.chats {
		if c == chat {
			copy(s.chats[1:i+1], s.chats[:i])
			s.chats[0] = chat
			return
		}
	}
}

// insertChatSortedLocked places the chat by UpdatedAt descending. Callers
// hold mu.
func (s *Store) insertChatSortedLocked(chat *models.Chat) {
	i := sort.Search(len(s.chats), func(i int) bool {
		return s.chats[i].UpdatedAt.Before(chat.UpdatedAt)
	})
	s.chats = append(s.chats, nil)
	copy(s.chats[i+1:], s.chats[i:])
	s.chats[i] = chat
	s.chatIndex[chat.ID] = chat
}

func (s *Store) findProjectLocked(id string) *models.Project {
	for i := range s.projects {
		if s.projects[i].ID == id {
			return &s.projects[i]
		}
	}
	return nil
}

func cloneChat(c *models.Chat) models.Chat {
	out := *c
	out.Messages = append([]models.Message(nil), c.Messages...)
	return out
}
