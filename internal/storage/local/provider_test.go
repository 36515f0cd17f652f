package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/database"
	"parley/internal/models"
	"parley/internal/storage"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	dir := t.TempDir()

	db, err := database.Init(database.Config{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	blobs, err := NewBlobStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	return New(db, blobs)
}

func strPtr(s string) *string { return &s }

func TestChatLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	chat, err := p.CreateChat(ctx, storage.CreateChatData{Title: "First chat"})
	require.NoError(t, err)
	require.NotEmpty(t, chat.ID)
	assert.False(t, models.IsTempID(chat.ID))

	got, err := p.GetChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "First chat", got.Title)

	updated, err := p.UpdateChat(ctx, chat.ID, storage.ChatPatch{Title: strPtr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	_, err = p.AddMessage(ctx, chat.ID, models.Message{Role: models.RoleUser, Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, p.DeleteChat(ctx, chat.ID))

	_, err = p.GetChatByID(ctx, chat.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = p.GetMessages(ctx, chat.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = p.DeleteChat(ctx, chat.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetChatsPagination(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := p.CreateChat(ctx, storage.CreateChatData{Title: fmt.Sprintf("chat %d", i)})
		require.NoError(t, err)
	}

	page, err := p.GetChats(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Chats, storage.DefaultPageSize)
	assert.True(t, page.HasMore)
	assert.EqualValues(t, 25, page.Total)

	rest, err := p.GetChats(ctx, storage.ListOptions{Offset: storage.DefaultPageSize})
	require.NoError(t, err)
	assert.Len(t, rest.Chats, 5)
	assert.False(t, rest.HasMore)
}

func TestGetChatsOrderedByUpdatedAt(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	first, err := p.CreateChat(ctx, storage.CreateChatData{Title: "older"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := p.CreateChat(ctx, storage.CreateChatData{Title: "newer"})
	require.NoError(t, err)

	page, err := p.GetChats(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Chats, 2)
	assert.Equal(t, second.ID, page.Chats[0].ID)

	// Appending a message floats the older chat back to the top.
	time.Sleep(5 * time.Millisecond)
	_, err = p.AddMessage(ctx, first.ID, models.Message{Role: models.RoleUser, Content: "bump"})
	require.NoError(t, err)

	page, err = p.GetChats(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, page.Chats[0].ID)
}

func TestMessagesKeepClientIDsAndOrder(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	chat, err := p.CreateChat(ctx, storage.CreateChatData{Title: "t"})
	require.NoError(t, err)

	base := time.Now()
	for i := 0; i < 3; i++ {
		msg := models.Message{
			ID:        fmt.Sprintf("msg-%d", i),
			Role:      models.RoleUser,
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		stored, err := p.AddMessage(ctx, chat.ID, msg)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, stored.ID)
	}

	msgs, err := p.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.ID)
	}

	_, err = p.AddMessage(ctx, "missing", models.Message{Role: models.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateMessageFinalState(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	chat, err := p.CreateChat(ctx, storage.CreateChatData{Title: "t"})
	require.NoError(t, err)
	msg, err := p.AddMessage(ctx, chat.ID, models.Message{Role: models.RoleAssistant})
	require.NoError(t, err)

	stats := &models.MessageStats{Model: "openai/gpt-4o", CompletionTokens: 42, TokensPerSecond: 21.5}
	updated, err := p.UpdateMessage(ctx, chat.ID, msg.ID, storage.MessagePatch{
		Content:         strPtr("final answer"),
		Stats:           stats,
		GeneratedImages: []string{"data:image/png;base64,xyz"},
	})
	require.NoError(t, err)
	assert.Equal(t, "final answer", updated.Content)

	msgs, err := p.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Stats)
	assert.Equal(t, 42, msgs[0].Stats.CompletionTokens)
	assert.InDelta(t, 21.5, msgs[0].Stats.TokensPerSecond, 0.001)
	require.Len(t, msgs[0].GeneratedImages, 1)
}

func TestMessagePartsRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	chat, err := p.CreateChat(ctx, storage.CreateChatData{Title: "t"})
	require.NoError(t, err)

	msg := models.Message{
		Role:    models.RoleUser,
		Content: "look at this",
		Parts: []models.ContentPart{
			models.TextPart("look at this"),
			models.ImagePart("data:image/png;base64,abc"),
		},
		Attachments: []models.Attachment{
			{Name: "pic.png", MimeType: "image/png", Size: 3, Data: "abc"},
		},
	}
	_, err = p.AddMessage(ctx, chat.ID, msg)
	require.NoError(t, err)

	msgs, err := p.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Parts, 2)
	assert.Equal(t, models.PartImage, msgs[0].Parts[1].Type)
	require.Len(t, msgs[0].Attachments, 1)
	assert.True(t, msgs[0].Attachments[0].IsImage())
}

func TestSettingsDefaultsAndPatch(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	settings, err := p.GetSettings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.WebSearchEnabled)
	assert.Empty(t, settings.SelectedModel)

	enabled := []string{"openai|gpt-4o"}
	on := true
	saved, err := p.SaveSettings(ctx, storage.SettingsPatch{
		SelectedModel:    strPtr("openai|gpt-4o"),
		EnabledModels:    &enabled,
		WebSearchEnabled: &on,
	})
	require.NoError(t, err)
	assert.True(t, saved.WebSearchEnabled)

	// A patch with only one field set must leave the others alone,
	// including turning a bool off.
	off := false
	saved, err = p.SaveSettings(ctx, storage.SettingsPatch{WebSearchEnabled: &off})
	require.NoError(t, err)
	assert.False(t, saved.WebSearchEnabled)
	assert.Equal(t, "openai|gpt-4o", saved.SelectedModel)
	assert.Equal(t, []string{"openai|gpt-4o"}, []string(saved.EnabledModels))
}

func TestUserPatchMergesNonZeroFields(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	user, err := p.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LocalUserID, user.ID)

	saved, err := p.SaveUser(ctx, storage.UserPatch{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", saved.Name)

	saved, err = p.SaveUser(ctx, storage.UserPatch{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", saved.Name)
	assert.Equal(t, "ada@example.com", saved.Email)
}

func TestProjectFileValidation(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	project, err := p.CreateProject(ctx, storage.CreateProjectData{Name: "Research"})
	require.NoError(t, err)

	_, err = p.AddProjectFile(ctx, project.ID, storage.FileData{Name: "  ", Data: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrValidation)

	_, err = p.AddProjectFile(ctx, project.ID, storage.FileData{Name: "empty.txt"})
	assert.ErrorIs(t, err, storage.ErrValidation)

	_, err = p.AddProjectFile(ctx, project.ID, storage.FileData{
		Name: "big.bin",
		Data: make([]byte, maxProjectFileSize+1),
	})
	require.ErrorIs(t, err, storage.ErrValidation)
	assert.Contains(t, err.Error(), "MiB")

	_, err = p.CreateProject(ctx, storage.CreateProjectData{Name: "   "})
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestProjectFileBlobLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	project, err := p.CreateProject(ctx, storage.CreateProjectData{Name: "Research"})
	require.NoError(t, err)

	payload := []byte("shared payload")
	f1, err := p.AddProjectFile(ctx, project.ID, storage.FileData{Name: "a.txt", MimeType: "text/plain", Data: payload})
	require.NoError(t, err)
	f2, err := p.AddProjectFile(ctx, project.ID, storage.FileData{Name: "b.txt", MimeType: "text/plain", Data: payload})
	require.NoError(t, err)

	// Identical payloads share one content-addressed blob.
	assert.Equal(t, f1.BlobRef, f2.BlobRef)

	require.NoError(t, p.RemoveProjectFile(ctx, project.ID, f1.ID))
	_, err = p.blobs.Get(f2.BlobRef)
	assert.NoError(t, err, "blob must survive while a row still references it")

	require.NoError(t, p.RemoveProjectFile(ctx, project.ID, f2.ID))
	_, err = p.blobs.Get(f2.BlobRef)
	assert.Error(t, err, "blob must be unlinked with its last reference")
}

func TestDeleteProjectDetachesChats(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	project, err := p.CreateProject(ctx, storage.CreateProjectData{Name: "Research"})
	require.NoError(t, err)
	chat, err := p.CreateChat(ctx, storage.CreateChatData{Title: "in project", ProjectID: &project.ID})
	require.NoError(t, err)
	_, err = p.AddProjectFile(ctx, project.ID, storage.FileData{Name: "n.txt", Data: []byte("n")})
	require.NoError(t, err)

	chats, err := p.GetProjectChats(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	require.NoError(t, p.DeleteProject(ctx, project.ID))

	got, err := p.GetChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProjectID)

	projects, err := p.GetProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestSearchChatsMatchesTitleAndContent(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	byTitle, err := p.CreateChat(ctx, storage.CreateChatData{Title: "Quantum computing intro"})
	require.NoError(t, err)
	byContent, err := p.CreateChat(ctx, storage.CreateChatData{Title: "Untitled"})
	require.NoError(t, err)
	_, err = p.AddMessage(ctx, byContent.ID, models.Message{Role: models.RoleUser, Content: "explain quantum entanglement"})
	require.NoError(t, err)
	_, err = p.CreateChat(ctx, storage.CreateChatData{Title: "Dinner plans"})
	require.NoError(t, err)

	page, err := p.SearchChats(ctx, "quantum", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Chats, 2)
	ids := []string{page.Chats[0].ID, page.Chats[1].ID}
	assert.Contains(t, ids, byTitle.ID)
	assert.Contains(t, ids, byContent.ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	_, err := p.SaveUser(ctx, storage.UserPatch{Name: "Ada"})
	require.NoError(t, err)
	on := true
	_, err = p.SaveSettings(ctx, storage.SettingsPatch{WebSearchEnabled: &on})
	require.NoError(t, err)
	project, err := p.CreateProject(ctx, storage.CreateProjectData{Name: "Research"})
	require.NoError(t, err)
	chat, err := p.CreateChat(ctx, storage.CreateChatData{Title: "keep me", ProjectID: &project.ID})
	require.NoError(t, err)
	_, err = p.AddMessage(ctx, chat.ID, models.Message{ID: "m1", Role: models.RoleUser, Content: "hello"})
	require.NoError(t, err)

	snap, err := p.ExportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotVersion, snap.Version)
	require.Len(t, snap.Chats, 1)
	require.Len(t, snap.Chats[0].Messages, 1)

	require.NoError(t, p.ClearAll(ctx))
	page, err := p.GetChats(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Chats)

	require.NoError(t, p.ImportAll(ctx, snap))

	got, err := p.GetChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", got.Title)

	msgs, err := p.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	user, err := p.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)

	settings, err := p.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.WebSearchEnabled)

	err = p.ImportAll(ctx, &models.Snapshot{Version: 99})
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestSweepBlobsRemovesOrphans(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	project, err := p.CreateProject(ctx, storage.CreateProjectData{Name: "Research"})
	require.NoError(t, err)
	kept, err := p.AddProjectFile(ctx, project.ID, storage.FileData{Name: "keep.txt", Data: []byte("keep")})
	require.NoError(t, err)

	orphan := filepath.Join(p.blobs.dir, "deadbeef"+blobExt)
	require.NoError(t, os.WriteFile(orphan, []byte("orphan"), 0644))

	removed, err := p.SweepBlobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = p.blobs.Get(kept.BlobRef)
	assert.NoError(t, err)
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}
