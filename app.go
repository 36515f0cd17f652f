package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"parley/internal/database"
	"parley/internal/events"
	"parley/internal/llm/client"
	"parley/internal/models"
	"parley/internal/services"
	"parley/internal/storage"
	"parley/internal/storage/local"
	"parley/internal/storage/remote"
	"parley/internal/store"
	"parley/internal/utils"
)

// App is the chat controller bound to the webview: it translates UI intent
// into store mutations and completion calls. All conversation state lives in
// the store; App methods stay thin.
type App struct {
	ctx context.Context

	bus          *events.Bus
	store        *store.Store
	llm          *client.Client
	modelCatalog services.ModelService
	keyring      *services.KeyringService
	auth         *services.AuthService
	selector     *storage.Selector
	localStore   *local.Provider

	dbClose      func() error
	detachBridge func()

	streamMu  sync.Mutex
	streaming bool
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// startup builds the service graph. The context is saved so bound methods
// can call the runtime.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if err := utils.LoadEnv(); err != nil {
		runtime.LogDebug(ctx, fmt.Sprintf("no .env file loaded: %v", err))
	}

	db, err := database.Init(database.Config{})
	if err != nil {
		runtime.LogError(ctx, fmt.Sprintf("failed to open database: %v", err))
		return
	}
	if sqlDB, err := db.DB(); err != nil {
		runtime.LogError(ctx, fmt.Sprintf("failed to get sql.DB: %v", err))
	} else {
		a.dbClose = sqlDB.Close
	}

	blobs, err := local.NewBlobStore(filepath.Join(database.GetDataDir(), "blobs"))
	if err != nil {
		runtime.LogError(ctx, fmt.Sprintf("failed to open blob store: %v", err))
		return
	}
	a.localStore = local.New(db, blobs)

	a.keyring = services.NewKeyringService()
	a.auth = services.NewAuthService(a.keyring, os.Getenv("PARLEY_SYNC_URL"))

	a.selector = storage.NewSelector(a.localStore)
	if a.auth.SignedIn() {
		if provider, err := a.remoteProvider(); err != nil {
			runtime.LogError(ctx, fmt.Sprintf("sync backend unavailable, staying local: %v", err))
		} else {
			a.selector.Use(provider)
		}
	}

	a.bus = events.NewBus()
	a.detachBridge = events.AttachRuntime(ctx, a.bus)

	a.store = store.New(a.selector.Current, a.bus)
	a.llm = client.New(client.Config{
		BaseURL: os.Getenv("PARLEY_COMPLETIONS_URL"),
		APIKey: func() string {
			if s := a.store.Settings(); s != nil {
				return s.APIKey
			}
			return ""
		},
	})
	a.modelCatalog = services.NewModelService(a.store)

	if err := a.store.Initialize(ctx); err != nil {
		runtime.LogError(ctx, fmt.Sprintf("failed to load conversation state: %v", err))
		return
	}
	if err := a.modelCatalog.Startup(ctx); err != nil {
		runtime.LogError(ctx, fmt.Sprintf("failed to load model catalog: %v", err))
	}

	go func() {
		removed, err := a.localStore.SweepBlobs(context.Background())
		if err != nil {
			runtime.LogWarning(ctx, fmt.Sprintf("blob sweep failed: %v", err))
			return
		}
		if removed > 0 {
			runtime.LogInfo(ctx, fmt.Sprintf("blob sweep removed %d orphaned files", removed))
		}
	}()
}

// remoteProvider builds the sync backend against the current session. Its
// logout hook drops the app back to local storage when a refresh fails.
func (a *App) remoteProvider() (*remote.Provider, error) {
	return remote.New(remote.Config{
		BaseURL: a.auth.BaseURL(),
		Tokens:  a.auth,
		OnLogout: func() {
			runtime.LogWarning(a.ctx, "sync session expired, falling back to local storage")
			a.selector.Use(a.localStore)
			if err := a.keyring.ClearSyncSession(); err != nil {
				runtime.LogError(a.ctx, fmt.Sprintf("failed to clear sync session: %v", err))
			}
			go func() {
				if err := a.store.Initialize(context.Background()); err != nil {
					runtime.LogError(a.ctx, fmt.Sprintf("failed to reload local data: %v", err))
				}
			}()
		},
	})
}

// shutdown is called when the app is closing. Clean up resources here.
func (a *App) shutdown(ctx context.Context) {
	if a.detachBridge != nil {
		a.detachBridge()
		a.detachBridge = nil
	}
	if a.dbClose != nil {
		if err := a.dbClose(); err != nil {
			runtime.LogError(ctx, fmt.Sprintf("failed to close database: %v", err))
		} else {
			runtime.LogInfo(ctx, "database closed")
		}
		a.dbClose = nil
	}
}

// SendMessage appends the user's turn to the chat and streams the
// assistant's reply into a placeholder message. An empty chatID targets the
// current chat.
func (a *App) SendMessage(chatID, text string, attachments []models.Attachment) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return fmt.Errorf("message is empty")
	}

	settings := a.store.Settings()
	if settings == nil || strings.TrimSpace(settings.APIKey) == "" {
		return fmt.Errorf("no api key configured")
	}
	if settings.SelectedModel == "" {
		return fmt.Errorf("no model selected")
	}
	mdl, err := a.modelCatalog.GetModel(settings.SelectedModel)
	if err != nil {
		return err
	}

	if chatID == "" {
		chatID = a.store.CurrentChatID()
	}
	if chatID == "" {
		chatID = a.store.CreateChat(a.ctx, "", nil).ID
	}
	chat, ok := a.store.Chat(chatID)
	if !ok {
		return fmt.Errorf("chat %s not found", chatID)
	}

	if !a.beginStream() {
		return fmt.Errorf("a completion is already streaming")
	}

	userMsg := models.Message{
		Role:        models.RoleUser,
		Content:     text,
		Attachments: attachments,
	}
	if _, err := a.store.AddMessage(a.ctx, chatID, userMsg); err != nil {
		a.endStream()
		return err
	}
	placeholder, err := a.store.AddMessage(a.ctx, chatID, models.Message{Role: models.RoleAssistant})
	if err != nil {
		a.endStream()
		return err
	}

	history := a.buildHistory(chat, placeholder.ID)
	refineTitle := countUserTurns(history) == 1
	opts := &client.Options{
		WebSearch: settings.WebSearchEnabled,
		Images:    mdl.SupportsImages,
	}

	a.bus.Publish(events.StreamingChanged, true)
	go a.streamCompletion(chatID, placeholder.ID, mdl.APIName, history, opts, refineTitle, text)
	return nil
}

// RegenerateResponse streams a fresh completion into the chat's last
// assistant message, replacing its content in place.
func (a *App) RegenerateResponse(chatID string) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	if chatID == "" {
		chatID = a.store.CurrentChatID()
	}
	chat, ok := a.store.Chat(chatID)
	if !ok {
		return fmt.Errorf("chat %s not found", chatID)
	}

	settings := a.store.Settings()
	if settings == nil || strings.TrimSpace(settings.APIKey) == "" {
		return fmt.Errorf("no api key configured")
	}
	if settings.SelectedModel == "" {
		return fmt.Errorf("no model selected")
	}
	mdl, err := a.modelCatalog.GetModel(settings.SelectedModel)
	if err != nil {
		return err
	}

	msgs := a.store.Messages(chatID)
	target := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("chat has no assistant message to regenerate")
	}

	if !a.beginStream() {
		return fmt.Errorf("a completion is already streaming")
	}

	history := make([]models.Message, 0, target+1)
	if system, ok := a.systemTurn(chat); ok {
		history = append(history, system)
	}
	history = append(history, msgs[:target]...)

	if err := a.store.UpdateMessageContent(chatID, msgs[target].ID, ""); err != nil {
		a.endStream()
		return err
	}

	opts := &client.Options{
		WebSearch: settings.WebSearchEnabled,
		Images:    mdl.SupportsImages,
	}
	a.bus.Publish(events.StreamingChanged, true)
	go a.streamCompletion(chatID, msgs[target].ID, mdl.APIName, history, opts, false, "")
	return nil
}

// streamCompletion drives one completion and routes its callbacks into the
// store. Runs on its own goroutine; the streaming flag and event are cleared
// when the stream settles.
func (a *App) streamCompletion(chatID, messageID, model string, history []models.Message, opts *client.Options, refineTitle bool, userTurn string) {
	defer func() {
		a.bus.Publish(events.StreamingChanged, false)
		a.endStream()
	}()

	var acc strings.Builder
	a.llm.ChatStream(a.ctx, model, history, client.Callbacks{
		OnToken: func(token string) {
			acc.WriteString(token)
			if err := a.store.UpdateMessageContent(chatID, messageID, acc.String()); err != nil {
				runtime.LogDebug(a.ctx, fmt.Sprintf("stream update dropped: %v", err))
			}
		},
		OnComplete: func(content string, stats *models.MessageStats, images []string) {
			if err := a.store.CompleteMessage(a.ctx, chatID, messageID, content, stats, images); err != nil {
				runtime.LogError(a.ctx, fmt.Sprintf("failed to finalize message: %v", err))
				return
			}
			if refineTitle {
				a.refineChatTitle(chatID, model, userTurn, content)
			}
		},
		OnError: func(err error) {
			runtime.LogError(a.ctx, fmt.Sprintf("completion failed: %v", err))
			failure := fmt.Sprintf("The model request failed: %v", err)
			if cerr := a.store.CompleteMessage(a.ctx, chatID, messageID, failure, nil, nil); cerr != nil {
				runtime.LogError(a.ctx, fmt.Sprintf("failed to record completion failure: %v", cerr))
			}
		},
	}, opts)
}

// refineChatTitle swaps the word-derived title for a model-written one after
// the first completed exchange. Failures keep the derived title.
func (a *App) refineChatTitle(chatID, model, userTurn, assistantTurn string) {
	title, err := a.llm.GenerateTitle(a.ctx, model, userTurn, assistantTurn)
	if err != nil {
		runtime.LogDebug(a.ctx, fmt.Sprintf("title generation skipped: %v", err))
		return
	}
	if _, err := a.store.UpdateChat(a.ctx, chatID, storage.ChatPatch{Title: &title}); err != nil {
		runtime.LogDebug(a.ctx, fmt.Sprintf("title update failed: %v", err))
	}
}

// buildHistory assembles the provider conversation: project instructions as
// a leading system turn, then every cached message except the streaming
// placeholder.
func (a *App) buildHistory(chat models.Chat, placeholderID string) []models.Message {
	msgs := a.store.Messages(chat.ID)
	history := make([]models.Message, 0, len(msgs)+1)
	if system, ok := a.systemTurn(chat); ok {
		history = append(history, system)
	}
	for _, m := range msgs {
		if m.ID == placeholderID {
			continue
		}
		history = append(history, m)
	}
	return history
}

func (a *App) systemTurn(chat models.Chat) (models.Message, bool) {
	if chat.ProjectID == nil {
		return models.Message{}, false
	}
	instructions := a.projectInstructions(*chat.ProjectID)
	if instructions == "" {
		return models.Message{}, false
	}
	return models.Message{Role: models.RoleSystem, Content: instructions}, true
}

func (a *App) projectInstructions(projectID string) string {
	for _, p := range a.store.Projects() {
		if p.ID == projectID {
			return strings.TrimSpace(p.Instructions)
		}
	}
	return ""
}

func countUserTurns(history []models.Message) int {
	n := 0
	for i := range history {
		if history[i].Role == models.RoleUser {
			n++
		}
	}
	return n
}

func (a *App) beginStream() bool {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	if a.streaming {
		return false
	}
	a.streaming = true
	return true
}

func (a *App) endStream() {
	a.streamMu.Lock()
	a.streaming = false
	a.streamMu.Unlock()
}

// IsStreaming reports whether a completion is currently in flight.
func (a *App) IsStreaming() bool {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	return a.streaming
}
