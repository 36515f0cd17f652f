package main

import (
	"fmt"

	"parley/internal/models"
	"parley/internal/storage"
)

// Thin bound methods for the webview. Anything stateful delegates to the
// store so the frontend and background persistence see the same cache.

// GetChats returns the chats currently cached for the sidebar, most
// recently updated first.
func (a *App) GetChats() ([]models.Chat, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.Chats(), nil
}

func (a *App) GetCurrentChat() (*models.Chat, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.CurrentChat(), nil
}

// CreateChat opens a new chat immediately; persistence happens in the
// background. A nil projectID creates an unfiled chat.
func (a *App) CreateChat(title string, projectID *string) (*models.Chat, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.CreateChat(a.ctx, title, projectID), nil
}

func (a *App) SelectChat(chatID string) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.SelectChat(a.ctx, chatID)
}

func (a *App) UpdateChat(chatID string, patch storage.ChatPatch) (*models.Chat, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.UpdateChat(a.ctx, chatID, patch)
}

func (a *App) DeleteChat(chatID string) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.DeleteChat(a.ctx, chatID)
}

func (a *App) SearchChats(query string, opts storage.ListOptions) (*storage.ChatPage, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.SearchChats(a.ctx, query, opts)
}

// LoadMoreChats fetches the next sidebar page and returns the newly cached
// chats.
func (a *App) LoadMoreChats() ([]models.Chat, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.LoadMoreChats(a.ctx)
}

func (a *App) HasMoreChats() bool {
	if a.store == nil {
		return false
	}
	return a.store.HasMoreChats()
}

// GetMessages returns the cached messages for a chat. Call LoadMessages
// first for chats that have not been opened this session.
func (a *App) GetMessages(chatID string) ([]models.Message, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.Messages(chatID), nil
}

func (a *App) LoadMessages(chatID string) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.LoadMessages(a.ctx, chatID)
}

func (a *App) GetProjects() ([]models.Project, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.Projects(), nil
}

// SelectProject narrows the sidebar to one project's chats. An empty id
// clears the filter.
func (a *App) SelectProject(projectID string) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.SelectProject(a.ctx, projectID)
}

func (a *App) CreateProject(data storage.CreateProjectData) (*models.Project, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.CreateProject(a.ctx, data)
}

func (a *App) UpdateProject(projectID string, patch storage.ProjectPatch) (*models.Project, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.UpdateProject(a.ctx, projectID, patch)
}

func (a *App) DeleteProject(projectID string) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.DeleteProject(a.ctx, projectID)
}

func (a *App) AddProjectFile(projectID string, data storage.FileData) (*models.ProjectFile, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.AddProjectFile(a.ctx, projectID, data)
}

func (a *App) RemoveProjectFile(projectID, fileID string) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.RemoveProjectFile(a.ctx, projectID, fileID)
}

func (a *App) GetProjectChats(projectID string) ([]models.Chat, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.ProjectChats(a.ctx, projectID)
}

func (a *App) GetSettings() (*models.Settings, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.Settings(), nil
}

func (a *App) UpdateSettings(patch storage.SettingsPatch) (*models.Settings, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.UpdateSettings(a.ctx, patch)
}

func (a *App) GetUser() (*models.User, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.User(), nil
}

func (a *App) UpdateUser(patch storage.UserPatch) (*models.User, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.UpdateUser(a.ctx, patch)
}

func (a *App) ListModelGroups() ([]models.LLMModelGroup, error) {
	if a.modelCatalog == nil {
		return nil, fmt.Errorf("model service not available")
	}
	return a.modelCatalog.ListModelGroups()
}

func (a *App) EnabledModels() ([]models.LLMModel, error) {
	if a.modelCatalog == nil {
		return nil, fmt.Errorf("model service not available")
	}
	return a.modelCatalog.EnabledModels(), nil
}

func (a *App) SetModelEnabled(modelKey string, enabled bool) (*models.LLMModel, error) {
	if a.modelCatalog == nil {
		return nil, fmt.Errorf("model service not available")
	}
	return a.modelCatalog.SetModelEnabled(modelKey, enabled)
}

func (a *App) SetProviderEnabled(provider string, enabled bool) ([]models.LLMModel, error) {
	if a.modelCatalog == nil {
		return nil, fmt.Errorf("model service not available")
	}
	return a.modelCatalog.SetProviderEnabled(provider, enabled)
}

func (a *App) SignedIn() bool {
	return a.auth != nil && a.auth.SignedIn()
}

// SignIn stores the sync session and switches storage to the remote
// backend. The local database stays intact for sign-out.
func (a *App) SignIn(token, refreshToken string) error {
	if a.auth == nil || a.store == nil {
		return fmt.Errorf("auth service not available")
	}
	if err := a.auth.SignIn(token, refreshToken); err != nil {
		return err
	}
	provider, err := a.remoteProvider()
	if err != nil {
		return fmt.Errorf("connect sync backend: %w", err)
	}
	a.selector.Use(provider)
	if err := a.store.Initialize(a.ctx); err != nil {
		return fmt.Errorf("load synced data: %w", err)
	}
	return nil
}

// SignOut clears the sync session and reloads the local database.
func (a *App) SignOut() error {
	if a.auth == nil || a.store == nil {
		return fmt.Errorf("auth service not available")
	}
	if err := a.auth.SignOut(); err != nil {
		return err
	}
	a.selector.Use(a.localStore)
	return a.store.Initialize(a.ctx)
}

func (a *App) ExportData() (*models.Snapshot, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not available")
	}
	return a.store.ExportAll(a.ctx)
}

func (a *App) ImportData(snap *models.Snapshot) error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.ImportAll(a.ctx, snap)
}

// ClearData wipes the active backend and rebuilds the cache with a fresh
// empty chat.
func (a *App) ClearData() error {
	if a.store == nil {
		return fmt.Errorf("store not available")
	}
	return a.store.ClearAll(a.ctx)
}
