package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"parley/internal/models"
	"parley/internal/storage"
)

func listQuery(opts storage.ListOptions) url.Values {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.ProjectID != "" {
		q.Set("projectId", opts.ProjectID)
	}
	return q
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (p *Provider) GetChats(ctx context.Context, opts storage.ListOptions) (*storage.ChatPage, error) {
	var page storage.ChatPage
	if err := p.do(ctx, http.MethodGet, withQuery("/chats", listQuery(opts)), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (p *Provider) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	if err := p.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (p *Provider) CreateChat(ctx context.Context, data storage.CreateChatData) (*models.Chat, error) {
	var chat models.Chat
	if err := p.do(ctx, http.MethodPost, "/chats", data, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (p *Provider) UpdateChat(ctx context.Context, id string, patch storage.ChatPatch) (*models.Chat, error) {
	var chat models.Chat
	if err := p.do(ctx, http.MethodPatch, "/chats/"+url.PathEscape(id), patch, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (p *Provider) DeleteChat(ctx context.Context, id string) error {
	return p.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(id), nil, nil)
}

func (p *Provider) SearchChats(ctx context.Context, query string, opts storage.ListOptions) (*storage.ChatPage, error) {
	q := listQuery(opts)
	q.Set("q", query)
	var page storage.ChatPage
	if err := p.do(ctx, http.MethodGet, withQuery("/chats/search", q), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (p *Provider) AddMessage(ctx context.Context, chatID string, msg models.Message) (*models.Message, error) {
	var stored models.Message
	path := fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID))
	if err := p.do(ctx, http.MethodPost, path, msg, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (p *Provider) UpdateMessage(ctx context.Context, chatID, messageID string, patch storage.MessagePatch) (*models.Message, error) {
	var stored models.Message
	path := fmt.Sprintf("/chats/%s/messages/%s", url.PathEscape(chatID), url.PathEscape(messageID))
	if err := p.do(ctx, http.MethodPatch, path, patch, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (p *Provider) GetMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	path := fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID))
	if err := p.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (p *Provider) GetUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := p.do(ctx, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *Provider) SaveUser(ctx context.Context, patch storage.UserPatch) (*models.User, error) {
	var user models.User
	if err := p.do(ctx, http.MethodPatch, "/me", patch, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *Provider) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	if err := p.do(ctx, http.MethodGet, "/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (p *Provider) SaveSettings(ctx context.Context, patch storage.SettingsPatch) (*models.Settings, error) {
	var settings models.Settings
	if err := p.do(ctx, http.MethodPatch, "/settings", patch, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (p *Provider) GetProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := p.do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (p *Provider) CreateProject(ctx context.Context, data storage.CreateProjectData) (*models.Project, error) {
	var project models.Project
	if err := p.do(ctx, http.MethodPost, "/projects", data, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (p *Provider) UpdateProject(ctx context.Context, id string, patch storage.ProjectPatch) (*models.Project, error) {
	var project models.Project
	if err := p.do(ctx, http.MethodPatch, "/projects/"+url.PathEscape(id), patch, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (p *Provider) DeleteProject(ctx context.Context, id string) error {
	return p.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil)
}

func (p *Provider) AddProjectFile(ctx context.Context, projectID string, data storage.FileData) (*models.ProjectFile, error) {
	var file models.ProjectFile
	path := fmt.Sprintf("/projects/%s/files", url.PathEscape(projectID))
	if err := p.do(ctx, http.MethodPost, path, data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

func (p *Provider) RemoveProjectFile(ctx context.Context, projectID, fileID string) error {
	path := fmt.Sprintf("/projects/%s/files/%s", url.PathEscape(projectID), url.PathEscape(fileID))
	return p.do(ctx, http.MethodDelete, path, nil, nil)
}

func (p *Provider) GetProjectChats(ctx context.Context, projectID string) ([]models.Chat, error) {
	var chats []models.Chat
	path := fmt.Sprintf("/projects/%s/chats", url.PathEscape(projectID))
	if err := p.do(ctx, http.MethodGet, path, nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (p *Provider) ExportAll(ctx context.Context) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := p.do(ctx, http.MethodGet, "/export", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (p *Provider) ImportAll(ctx context.Context, snap *models.Snapshot) error {
	return p.do(ctx, http.MethodPost, "/import", snap, nil)
}

func (p *Provider) ClearAll(ctx context.Context) error {
	return p.do(ctx, http.MethodDelete, "/data", nil, nil)
}
