package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/events"
	"parley/internal/models"
	"parley/internal/storage"
)

// initializedStore seeds a store with one durable chat c1 and returns it
// with the underlying mock for further overrides.
func initializedStore(t *testing.T, p *mockProvider) (*Store, *events.Bus) {
	t.Helper()
	if p.getChats == nil {
		p.getChats = func(opts storage.ListOptions) (*storage.ChatPage, error) {
			return &storage.ChatPage{Chats: []models.Chat{serverChat("c1", DefaultChatTitle, time.Minute)}}, nil
		}
	}
	s, bus := newTestStore(p)
	require.NoError(t, s.Initialize(context.Background()))
	return s, bus
}

func TestAddMessageDerivesTitleFromFirstUserMessage(t *testing.T) {
	var mu sync.Mutex
	var titles []string
	p := &mockProvider{
		updateChat: func(id string, patch storage.ChatPatch) (*models.Chat, error) {
			mu.Lock()
			if patch.Title != nil {
				titles = append(titles, *patch.Title)
			}
			mu.Unlock()
			return &models.Chat{ID: id}, nil
		},
	}
	s, bus := initializedStore(t, p)
	rec := recordBus(bus)

	_, err := s.AddMessage(context.Background(), "c1", models.Message{
		Role:    models.RoleUser,
		Content: "# Plan my *trip* to Kyoto next spring",
	}, WithWait())
	require.NoError(t, err)

	chat, ok := s.Chat("c1")
	require.True(t, ok)
	assert.Equal(t, "Plan my trip to Kyoto next", chat.Title)
	assert.Equal(t, 1, rec.count(events.ChatUpdated))
	assert.Equal(t, 1, rec.count(events.MessageAdded))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(titles) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"Plan my trip to Kyoto next"}, titles)
	mu.Unlock()

	// A second user message leaves the derived title alone.
	_, err = s.AddMessage(context.Background(), "c1", models.Message{
		Role:    models.RoleUser,
		Content: "Actually make it autumn",
	}, WithWait())
	require.NoError(t, err)
	chat, _ = s.Chat("c1")
	assert.Equal(t, "Plan my trip to Kyoto next", chat.Title)
}

func TestAddMessageKeepsUserRenamedTitle(t *testing.T) {
	p := &mockProvider{
		getChats: func(opts storage.ListOptions) (*storage.ChatPage, error) {
			return &storage.ChatPage{Chats: []models.Chat{serverChat("c1", "My research", time.Minute)}}, nil
		},
	}
	s, _ := newTestStore(p)
	require.NoError(t, s.Initialize(context.Background()))

	_, err := s.AddMessage(context.Background(), "c1", models.Message{
		Role:    models.RoleUser,
		Content: "hello",
	}, WithWait())
	require.NoError(t, err)

	chat, _ := s.Chat("c1")
	assert.Equal(t, "My research", chat.Title)
}

func TestAddMessageWithWaitSurfacesPersistError(t *testing.T) {
	p := &mockProvider{
		addMessage: func(chatID string, msg models.Message) (*models.Message, error) {
			return nil, errors.New("disk full")
		},
	}
	s, _ := initializedStore(t, p)

	msg, err := s.AddMessage(context.Background(), "c1", models.Message{
		Role:    models.RoleAssistant,
		Content: "partial",
	}, WithWait())
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")

	// The optimistic append stays in the cache regardless.
	require.NotNil(t, msg)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestAddMessageUnknownChat(t *testing.T) {
	s, _ := initializedStore(t, &mockProvider{})
	_, err := s.AddMessage(context.Background(), "ghost", models.Message{Role: models.RoleUser, Content: "hi"})
	require.Error(t, err)
}

func TestUpdateMessageContentIsCacheOnly(t *testing.T) {
	p := &mockProvider{}
	s, bus := initializedStore(t, p)

	msg, err := s.AddMessage(context.Background(), "c1", models.Message{
		Role: models.RoleAssistant,
	}, WithWait())
	require.NoError(t, err)
	rec := recordBus(bus)

	require.NoError(t, s.UpdateMessageContent("c1", msg.ID, "Hel"))
	require.NoError(t, s.UpdateMessageContent("c1", msg.ID, "Hello"))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, 2, rec.count(events.MessageUpdated))
	assert.Equal(t, 0, p.callCount("UpdateMessage"))

	require.Error(t, s.UpdateMessageContent("c1", "missing", "x"))
}

func TestCompleteMessagePersistsFinalState(t *testing.T) {
	var mu sync.Mutex
	var got storage.MessagePatch
	var gotChatID, gotMessageID string
	p := &mockProvider{
		updateMessage: func(chatID, messageID string, patch storage.MessagePatch) (*models.Message, error) {
			mu.Lock()
			gotChatID, gotMessageID, got = chatID, messageID, patch
			mu.Unlock()
			return &models.Message{ID: messageID, ChatID: chatID}, nil
		},
	}
	s, bus := initializedStore(t, p)

	msg, err := s.AddMessage(context.Background(), "c1", models.Message{
		Role: models.RoleAssistant,
	}, WithWait())
	require.NoError(t, err)
	rec := recordBus(bus)

	stats := &models.MessageStats{
		Model:            "openai/gpt-4o",
		CompletionTokens: 42,
		TokensPerSecond:  18.5,
	}
	images := []string{"https://img.example/gen-1.png"}
	require.NoError(t, s.CompleteMessage(context.Background(), "c1", msg.ID, "Hello, Kyoto", stats, images))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello, Kyoto", msgs[0].Content)
	require.NotNil(t, msgs[0].Stats)
	assert.Equal(t, 42, msgs[0].Stats.CompletionTokens)
	assert.Equal(t, []string(msgs[0].GeneratedImages), images)
	assert.Equal(t, 1, rec.count(events.MessageUpdated))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotMessageID == msg.ID
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "c1", gotChatID)
	require.NotNil(t, got.Content)
	assert.Equal(t, "Hello, Kyoto", *got.Content)
	assert.Equal(t, stats, got.Stats)
	assert.Equal(t, images, got.GeneratedImages)
	mu.Unlock()
}

func TestLoadMessagesDeduplicatesConcurrentLoads(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	p := &mockProvider{
		getChats: func(opts storage.ListOptions) (*storage.ChatPage, error) {
			return &storage.ChatPage{Chats: []models.Chat{
				serverChat("c1", "Current", time.Minute),
				serverChat("c2", "Lazy", time.Hour),
			}}, nil
		},
		getMessages: func(chatID string) ([]models.Message, error) {
			if chatID != "c2" {
				return nil, nil
			}
			calls.Add(1)
			<-gate
			return []models.Message{{ID: "m1", ChatID: chatID, Role: models.RoleUser, Content: "hi"}}, nil
		},
	}
	s, bus := newTestStore(p)
	require.NoError(t, s.Initialize(context.Background()))
	rec := recordBus(bus)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.LoadMessages(context.Background(), "c2")
		}(i)
	}

	// Let the callers pile up on the shared flight before releasing it.
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, s.Messages("c2"), 1)

	// Loaded chats never refetch.
	require.NoError(t, s.LoadMessages(context.Background(), "c2"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, rec.count(events.MessagesLoaded))
}

func TestLoadMessagesPublishesError(t *testing.T) {
	p := &mockProvider{
		getChats: func(opts storage.ListOptions) (*storage.ChatPage, error) {
			return &storage.ChatPage{Chats: []models.Chat{
				serverChat("c1", "Current", time.Minute),
				serverChat("c2", "Broken", time.Hour),
			}}, nil
		},
		getMessages: func(chatID string) ([]models.Message, error) {
			if chatID == "c2" {
				return nil, errors.New("row gone")
			}
			return nil, nil
		},
	}
	s, bus := newTestStore(p)
	require.NoError(t, s.Initialize(context.Background()))
	rec := recordBus(bus)

	err := s.LoadMessages(context.Background(), "c2")
	require.Error(t, err)
	assert.ErrorContains(t, err, "row gone")

	require.Equal(t, 1, rec.count(events.MessagesError))
	payload, ok := rec.payloads(events.MessagesError)[0].(events.LoadErrorPayload)
	require.True(t, ok)
	assert.Equal(t, "c2", payload.ChatID)
	assert.Contains(t, payload.Error, "row gone")

	// The failure does not poison the chat: a later load may succeed.
	assert.Equal(t, 0, rec.count(events.MessagesLoaded))
	err = s.LoadMessages(context.Background(), "c2")
	require.Error(t, err)
}

func TestMessagesLoadingEventsBracketTheFetch(t *testing.T) {
	p := &mockProvider{
		getChats: func(opts storage.ListOptions) (*storage.ChatPage, error) {
			return &storage.ChatPage{Chats: []models.Chat{
				serverChat("c1", "Current", time.Minute),
				serverChat("c2", "Lazy", time.Hour),
			}}, nil
		},
	}
	s, bus := newTestStore(p)
	require.NoError(t, s.Initialize(context.Background()))
	rec := recordBus(bus)

	require.NoError(t, s.LoadMessages(context.Background(), "c2"))

	loading := rec.payloads(events.MessagesLoading)
	require.Len(t, loading, 2)
	first, ok := loading[0].(events.LoadingPayload)
	require.True(t, ok)
	assert.True(t, first.IsLoading)
	assert.Equal(t, "c2", first.ChatID)
	second, ok := loading[1].(events.LoadingPayload)
	require.True(t, ok)
	assert.False(t, second.IsLoading)
}
