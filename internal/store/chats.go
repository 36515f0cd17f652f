package store

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"parley/internal/events"
	"parley/internal/models"
	"parley/internal/storage"
)

// CreateChat inserts a fully-formed chat under a temporary id, makes it
// current and publishes before any I/O happens. The durable create runs in
// the background and swaps the temporary entry for the real row; when it
// fails the optimistic chat stays usable, local-only.
func (s *Store) CreateChat(ctx context.Context, title string, projectID *string) *models.Chat {
	if strings.TrimSpace(title) == "" {
		title = DefaultChatTitle
	}
	now := time.Now()
	chat := &models.Chat{
		ID:        models.NewTempChatID(),
		Title:     title,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	pending := &pendingChat{done: make(chan struct{})}

	s.mu.Lock()
	gen := s.generation
	s.chats = append([]*models.Chat{chat}, s.chats...)
	s.chatIndex[chat.ID] = chat
	s.loaded[chat.ID] = true
	s.pendingChats[chat.ID] = pending
	s.currentChatID = chat.ID
	out := cloneChat(chat)
	s.mu.Unlock()

	s.bus.Publish(events.ChatCreated, &out)
	s.bus.Publish(events.ChatSelected, out.ID)

	go s.resolveChat(gen, out.ID, storage.CreateChatData{Title: title, ProjectID: projectID}, pending)

	return &out
}

// resolveChat issues the durable create for an optimistic chat and settles
// its resolution future. Dependent persists block on the future, so it must
// close on every path.
func (s *Store) resolveChat(gen uint64, tempID string, data storage.CreateChatData, pending *pendingChat) {
	created, err := s.provider().CreateChat(context.Background(), data)

	if err != nil {
		s.mu.Lock()
		pending.id = tempID
		delete(s.pendingChats, tempID)
		s.mu.Unlock()
		close(pending.done)
		log.Printf("store: durable create for %s failed, chat stays local-only: %v", tempID, err)
		return
	}

	s.mu.Lock()
	s.resolvedIDs[tempID] = created.ID
	var updated *models.Chat
	if gen == s.generation {
		updated = s.swapChatLocked(tempID, created)
	}
	pending.id = created.ID
	delete(s.pendingChats, tempID)
	s.mu.Unlock()
	close(pending.done)

	if updated != nil {
		s.bus.Publish(events.ChatUpdated, updated)
	}
}

// swapChatLocked replaces the optimistic entry with the durable chat at the
// same list position, carrying over cached messages (re-keyed to the new
// id) and any title applied during the gap. Callers hold mu. Returns a copy
// for publishing, nil when the temporary entry is already gone.
func (s *Store) swapChatLocked(tempID string, durable *models.Chat) *models.Chat {
	old := s.chatIndex[tempID]
	if old == nil {
		return nil
	}

	durable.Messages = old.Messages
	for i := range durable.Messages {
		durable.Messages[i].ChatID = durable.ID
	}
	if old.Title != durable.Title {
		durable.Title = old.Title
	}

	delete(s.chatIndex, tempID)
	s.chatIndex[durable.ID] = durable
	for i, c := range s.chats {
		if c == old {
			s.chats[i] = durable
			break
		}
	}
	if s.loaded[tempID] {
		delete(s.loaded, tempID)
		s.loaded[durable.ID] = true
	}
	if q := s.persistQueues[tempID]; q != nil {
		delete(s.persistQueues, tempID)
		q.key = durable.ID
		s.persistQueues[durable.ID] = q
	}
	if s.currentChatID == tempID {
		s.currentChatID = durable.ID
	}

	out := cloneChat(durable)
	return &out
}

// SelectChat makes the chat current and lazily loads its messages. Chats
// the cache has not seen, such as search hits from deeper pages, are
// fetched and inserted first.
func (s *Store) SelectChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	id := s.aliasLocked(chatID)
	known := s.chatIndex[id] != nil
	gen := s.generation
	s.mu.Unlock()

	if !known {
		fetched, err := s.provider().GetChatByID(ctx, id)
		if err != nil {
			return fmt.Errorf("select chat %s: %w", id, err)
		}
		s.mu.Lock()
		if gen == s.generation {
			if _, exists := s.chatIndex[id]; !exists {
				s.insertChatSortedLocked(fetched)
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if _, ok := s.chatIndex[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("chat %s not found", id)
	}
	s.currentChatID = id
	s.mu.Unlock()

	s.bus.Publish(events.ChatSelected, id)
	return s.LoadMessages(ctx, id)
}

// UpdateChat applies the patch to the cache, publishes, and persists on the
// chat's queue. A failed persist keeps the optimistic value.
func (s *Store) UpdateChat(ctx context.Context, chatID string, patch storage.ChatPatch) (*models.Chat, error) {
	s.mu.Lock()
	id := s.aliasLocked(chatID)
	chat := s.chatIndex[id]
	if chat == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("chat %s is not cached", chatID)
	}
	if patch.Title != nil {
		chat.Title = *patch.Title
	}
	if patch.ClearProject {
		chat.ProjectID = nil
	} else if patch.ProjectID != nil {
		chat.ProjectID = patch.ProjectID
	}
	chat.UpdatedAt = time.Now()
	s.bumpChatLocked(chat)
	out := cloneChat(chat)
	s.mu.Unlock()

	s.bus.Publish(events.ChatUpdated, &out)

	s.enqueuePersist(id, func() error {
		bg := context.Background()
		durableID, err := s.awaitDurableID(bg, id)
		if err != nil || models.IsTempID(durableID) {
			return err
		}
		if _, err := s.provider().UpdateChat(bg, durableID, patch); err != nil {
			return fmt.Errorf("persist chat update %s: %w", durableID, err)
		}
		return nil
	})

	return &out, nil
}

// DeleteChat removes the chat from cache and storage. When it was current,
// selection moves to the most recent remaining chat, or to a fresh empty
// chat when none remain.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	id := s.aliasLocked(chatID)
	chat := s.chatIndex[id]
	if chat == nil {
		s.mu.Unlock()
		return fmt.Errorf("chat %s is not cached", chatID)
	}
	delete(s.chatIndex, id)
	delete(s.loaded, id)
	for i, c := range s.chats {
		if c == chat {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			break
		}
	}
	wasCurrent := s.currentChatID == id
	var nextID string
	if wasCurrent {
		s.currentChatID = ""
		if len(s.chats) > 0 {
			nextID = s.chats[0].ID
			s.currentChatID = nextID
		}
	}
	projectID := s.currentProjectID
	s.mu.Unlock()

	s.bus.Publish(events.ChatDeleted, id)

	s.enqueuePersist(id, func() error {
		bg := context.Background()
		durableID, err := s.awaitDurableID(bg, id)
		if err != nil {
			return err
		}
		if models.IsTempID(durableID) {
			// The create never landed; there is no row to delete.
			return nil
		}
		if err := s.provider().DeleteChat(bg, durableID); err != nil {
			return fmt.Errorf("persist chat delete %s: %w", durableID, err)
		}
		return nil
	})

	if wasCurrent {
		if nextID != "" {
			s.bus.Publish(events.ChatSelected, nextID)
			if err := s.LoadMessages(ctx, nextID); err != nil {
				log.Printf("store: loading messages for %s: %v", nextID, err)
			}
		} else {
			var pid *string
			if projectID != "" {
				pid = &projectID
			}
			s.CreateChat(ctx, DefaultChatTitle, pid)
		}
	}
	return nil
}

// LoadMoreChats fetches the next chat page under the current project filter
// and appends it to the cache. The offset cursor counts provider rows only,
// so chats created locally since the last page do not skew paging.
func (s *Store) LoadMoreChats(ctx context.Context) ([]models.Chat, error) {
	s.mu.Lock()
	if !s.hasMoreChats {
		s.mu.Unlock()
		return nil, nil
	}
	opts := storage.ListOptions{
		Limit:     storage.DefaultPageSize,
		Offset:    s.chatOffset,
		ProjectID: s.currentProjectID,
	}
	gen := s.generation
	s.mu.Unlock()

	page, err := s.provider().GetChats(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("load more chats: %w", err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil, nil
	}
	added := make([]models.Chat, 0, len(page.Chats))
	for i := range page.Chats {
		c := page.Chats[i]
		if _, exists := s.chatIndex[c.ID]; exists {
			continue
		}
		s.chats = append(s.chats, &c)
		s.chatIndex[c.ID] = &c
		added = append(added, c)
	}
	s.chatOffset += len(page.Chats)
	s.hasMoreChats = page.HasMore
	s.mu.Unlock()

	return added, nil
}

// SearchChats queries the provider directly; results are not cached. An
// explicit project filter in opts wins over the current one.
func (s *Store) SearchChats(ctx context.Context, query string, opts storage.ListOptions) (*storage.ChatPage, error) {
	if opts.Limit <= 0 {
		opts.Limit = storage.DefaultPageSize
	}
	s.mu.Lock()
	if opts.ProjectID == "" {
		opts.ProjectID = s.currentProjectID
	}
	s.mu.Unlock()

	page, err := s.provider().SearchChats(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	return page, nil
}

// SelectProject narrows the chat list to one project, or widens it to all
// chats when projectID is empty. The chat cache is discarded and page one
// reloaded under the new filter.
func (s *Store) SelectProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.currentProjectID = projectID
	s.chats = nil
	s.chatIndex = make(map[string]*models.Chat)
	s.loaded = make(map[string]bool)
	s.inflightLoads = make(map[string]*inflightLoad)
	s.chatOffset = 0
	s.hasMoreChats = false
	s.currentChatID = ""
	s.mu.Unlock()

	s.bus.Publish(events.ProjectSelected, projectID)

	page, err := s.provider().GetChats(ctx, storage.ListOptions{
		Limit:     storage.DefaultPageSize,
		ProjectID: projectID,
	})
	if err != nil {
		return fmt.Errorf("load chats for project: %w", err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	for i := range page.Chats {
		c := page.Chats[i]
		s.chats = append(s.chats, &c)
		s.chatIndex[c.ID] = &c
	}
	s.chatOffset = len(page.Chats)
	s.hasMoreChats = page.HasMore
	var nextID string
	if len(s.chats) > 0 {
		nextID = s.chats[0].ID
		s.currentChatID = nextID
	}
	s.mu.Unlock()

	if nextID == "" {
		var pid *string
		if projectID != "" {
			pid = &projectID
		}
		s.CreateChat(ctx, DefaultChatTitle, pid)
		return nil
	}

	s.bus.Publish(events.ChatSelected, nextID)
	return s.LoadMessages(ctx, nextID)
}
