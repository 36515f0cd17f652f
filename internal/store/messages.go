package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parley/internal/events"
	"parley/internal/models"
	"parley/internal/storage"
	"parley/internal/utils"
)

type addOptions struct {
	wait bool
}

// AddMessageOption tunes AddMessage persistence behavior.
type AddMessageOption func(*addOptions)

// WithWait makes AddMessage block on the durable write and surface its
// error instead of the default fire-and-forget.
func WithWait() AddMessageOption {
	return func(o *addOptions) { o.wait = true }
}

// AddMessage appends the draft to the chat's cached history and publishes
// before any I/O. The durable write runs on the chat's persist queue,
// behind the chat's own create when that is still pending. The first user
// message also derives the chat title.
func (s *Store) AddMessage(ctx context.Context, chatID string, draft models.Message, opts ...AddMessageOption) (*models.Message, error) {
	var options addOptions
	for _, opt := range opts {
		opt(&options)
	}

	msg := draft
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	id := s.aliasLocked(chatID)
	chat := s.chatIndex[id]
	if chat == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("chat %s is not cached", chatID)
	}
	msg.ChatID = chat.ID
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = time.Now()
	s.bumpChatLocked(chat)

	derivedTitle := ""
	if msg.Role == models.RoleUser && countRole(chat, models.RoleUser) == 1 && isDefaultTitle(chat.Title) {
		if title := utils.DeriveTitle(msg.TextContent(), DefaultChatTitle); title != chat.Title {
			derivedTitle = title
			chat.Title = title
		}
	}
	cacheID := chat.ID
	chatCopy := cloneChat(chat)
	s.mu.Unlock()

	msgCopy := msg
	s.bus.Publish(events.MessageAdded, events.MessagePayload{ChatID: cacheID, Message: &msgCopy})
	if derivedTitle != "" {
		s.bus.Publish(events.ChatUpdated, &chatCopy)
	}

	persisted := s.enqueuePersist(cacheID, func() error {
		bg := context.Background()
		durableID, err := s.awaitDurableID(bg, cacheID)
		if err != nil {
			return err
		}
		if models.IsTempID(durableID) {
			// The chat's create failed; it lives in the cache only.
			return nil
		}
		stored := msg
		stored.ChatID = durableID
		if _, err := s.provider().AddMessage(bg, durableID, stored); err != nil {
			return fmt.Errorf("persist message %s: %w", stored.ID, err)
		}
		return nil
	})

	if derivedTitle != "" {
		title := derivedTitle
		s.enqueuePersist(cacheID, func() error {
			bg := context.Background()
			durableID, err := s.awaitDurableID(bg, cacheID)
			if err != nil || models.IsTempID(durableID) {
				return err
			}
			if _, err := s.provider().UpdateChat(bg, durableID, storage.ChatPatch{Title: &title}); err != nil {
				return fmt.Errorf("persist derived title for %s: %w", durableID, err)
			}
			return nil
		})
	}

	if options.wait {
		select {
		case err := <-persisted:
			if err != nil {
				return &msgCopy, err
			}
		case <-ctx.Done():
			return &msgCopy, ctx.Err()
		}
	}
	return &msgCopy, nil
}

// UpdateMessageContent is the streaming path: it rewrites a message's
// cached content and publishes, with no provider write. The durable write
// belongs to CompleteMessage once the stream settles.
func (s *Store) UpdateMessageContent(chatID, messageID, content string) error {
	s.mu.Lock()
	chat, msg := s.findMessageLocked(chatID, messageID)
	if msg == nil {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found in chat %s", messageID, chatID)
	}
	msg.Content = content
	cacheID := chat.ID
	msgCopy := *msg
	s.mu.Unlock()

	s.bus.Publish(events.MessageUpdated, events.MessagePayload{ChatID: cacheID, Message: &msgCopy})
	return nil
}

// CompleteMessage records a stream's final content, stats and generated
// images, then persists the finished message on the chat's queue.
func (s *Store) CompleteMessage(ctx context.Context, chatID, messageID, content string, stats *models.MessageStats, images []string) error {
	s.mu.Lock()
	chat, msg := s.findMessageLocked(chatID, messageID)
	if msg == nil {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found in chat %s", messageID, chatID)
	}
	msg.Content = content
	msg.Stats = stats
	if len(images) > 0 {
		msg.GeneratedImages = images
	}
	chat.UpdatedAt = time.Now()
	s.bumpChatLocked(chat)
	cacheID := chat.ID
	msgCopy := *msg
	s.mu.Unlock()

	s.bus.Publish(events.MessageUpdated, events.MessagePayload{ChatID: cacheID, Message: &msgCopy})

	s.enqueuePersist(cacheID, func() error {
		bg := context.Background()
		durableID, err := s.awaitDurableID(bg, cacheID)
		if err != nil || models.IsTempID(durableID) {
			return err
		}
		patch := storage.MessagePatch{Content: &content, Stats: stats, GeneratedImages: images}
		if _, err := s.provider().UpdateMessage(bg, durableID, messageID, patch); err != nil {
			return fmt.Errorf("persist final message %s: %w", messageID, err)
		}
		return nil
	})
	return nil
}

// LoadMessages fetches a chat's history on first access. Concurrent calls
// for the same chat share one provider fetch; the outcome is published as
// messages:loaded or messages:error either way.
func (s *Store) LoadMessages(ctx context.Context, chatID string) error {
	s.mu.Lock()
	id := s.aliasLocked(chatID)
	if s.loaded[id] {
		s.mu.Unlock()
		return nil
	}
	if flight, ok := s.inflightLoads[id]; ok {
		s.mu.Unlock()
		select {
		case <-flight.done:
			return flight.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	flight := &inflightLoad{done: make(chan struct{})}
	s.inflightLoads[id] = flight
	gen := s.generation
	s.mu.Unlock()

	s.bus.Publish(events.MessagesLoading, events.LoadingPayload{ChatID: id, IsLoading: true})

	msgs, err := s.provider().GetMessages(ctx, id)
	if err != nil {
		err = fmt.Errorf("load messages for %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.inflightLoads, id)
	if err == nil && gen == s.generation {
		if chat := s.chatIndex[id]; chat != nil {
			chat.Messages = msgs
			s.loaded[id] = true
		}
	}
	s.mu.Unlock()

	flight.err = err
	close(flight.done)

	s.bus.Publish(events.MessagesLoading, events.LoadingPayload{ChatID: id, IsLoading: false})
	if err != nil {
		s.bus.Publish(events.MessagesError, events.LoadErrorPayload{ChatID: id, Error: err.Error()})
		return err
	}
	s.bus.Publish(events.MessagesLoaded, events.MessagesPayload{ChatID: id, Messages: msgs})
	return nil
}

// Messages returns a copy of the chat's cached messages. Loading them is
// LoadMessages' concern.
func (s *Store) Messages(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.chatIndex[s.aliasLocked(chatID)]
	if chat == nil {
		return nil
	}
	return append([]models.Message(nil), chat.Messages...)
}

// findMessageLocked scans the chat's messages newest-first, since content
// updates target the message still being streamed. Callers hold mu.
func (s *Store) findMessageLocked(chatID, messageID string) (*models.Chat, *models.Message) {
	chat := s.chatIndex[s.aliasLocked(chatID)]
	if chat == nil {
		return nil, nil
	}
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		if chat.Messages[i].ID == messageID {
			return chat, &chat.Messages[i]
		}
	}
	return chat, nil
}

func countRole(chat *models.Chat, role string) int {
	n := 0
	for i := range chat.Messages {
		if chat.Messages[i].Role == role {
			n++
		}
	}
	return n
}

func isDefaultTitle(title string) bool {
	return title == "" || title == DefaultChatTitle
}
