package local

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"parley/internal/models"
	"parley/internal/storage"
)

// maxProjectFileSize caps a single uploaded file payload.
const maxProjectFileSize = 10 << 20

func (p *Provider) GetProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := p.db.WithContext(ctx).Preload("Files").
		Order("created_at ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (p *Provider) CreateProject(ctx context.Context, data storage.CreateProjectData) (*models.Project, error) {
	if strings.TrimSpace(data.Name) == "" {
		return nil, fmt.Errorf("%w: project name is required", storage.ErrValidation)
	}

	now := time.Now()
	project := models.Project{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(data.Name),
		Description:  data.Description,
		Instructions: data.Instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &project, nil
}

func (p *Provider) UpdateProject(ctx context.Context, id string, patch storage.ProjectPatch) (*models.Project, error) {
	project, err := p.getProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, fmt.Errorf("%w: project name is required", storage.ErrValidation)
		}
		project.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		project.Description = *patch.Description
	}
	if patch.Instructions != nil {
		project.Instructions = *patch.Instructions
	}

	if err := p.db.WithContext(ctx).Omit("Files").Save(project).Error; err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return project, nil
}

// DeleteProject removes the project and its file rows, detaches the
// project's chats, and unlinks blobs nothing references anymore.
func (p *Provider) DeleteProject(ctx context.Context, id string) error {
	var refs []string
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Project{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
		}

		if err := tx.Model(&models.ProjectFile{}).Where("project_id = ?", id).
			Pluck("blob_ref", &refs).Error; err != nil {
			return fmt.Errorf("collect blob refs: %w", err)
		}
		if err := tx.Delete(&models.ProjectFile{}, "project_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete project files: %w", err)
		}
		return tx.Model(&models.Chat{}).Where("project_id = ?", id).
			Update("project_id", nil).Error
	})
	if err != nil {
		return err
	}

	for _, ref := range refs {
		p.removeBlobIfUnreferenced(ctx, ref)
	}
	return nil
}

func (p *Provider) AddProjectFile(ctx context.Context, projectID string, data storage.FileData) (*models.ProjectFile, error) {
	if strings.TrimSpace(data.Name) == "" {
		return nil, fmt.Errorf("%w: file name is required", storage.ErrValidation)
	}
	if len(data.Data) == 0 {
		return nil, fmt.Errorf("%w: file %s is empty", storage.ErrValidation, data.Name)
	}
	if len(data.Data) > maxProjectFileSize {
		return nil, fmt.Errorf("%w: file %s exceeds the %s limit",
			storage.ErrValidation, data.Name, humanize.IBytes(maxProjectFileSize))
	}

	if _, err := p.getProject(ctx, projectID); err != nil {
		return nil, err
	}

	ref, err := p.blobs.Put(data.Data)
	if err != nil {
		return nil, fmt.Errorf("store file payload: %w", err)
	}

	file := models.ProjectFile{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      data.Name,
		MimeType:  data.MimeType,
		Size:      int64(len(data.Data)),
		BlobRef:   ref,
		CreatedAt: time.Now(),
	}
	if err := p.db.WithContext(ctx).Create(&file).Error; err != nil {
		return nil, fmt.Errorf("create project file: %w", err)
	}
	return &file, nil
}

func (p *Provider) RemoveProjectFile(ctx context.Context, projectID, fileID string) error {
	var file models.ProjectFile
	if err := p.db.WithContext(ctx).First(&file, "id = ? AND project_id = ?", fileID, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("project file %s: %w", fileID, storage.ErrNotFound)
		}
		return fmt.Errorf("get project file: %w", err)
	}

	if err := p.db.WithContext(ctx).Delete(&file).Error; err != nil {
		return fmt.Errorf("delete project file: %w", err)
	}

	p.removeBlobIfUnreferenced(ctx, file.BlobRef)
	return nil
}

func (p *Provider) GetProjectChats(ctx context.Context, projectID string) ([]models.Chat, error) {
	var chats []models.Chat
	if err := p.db.WithContext(ctx).Where("project_id = ?", projectID).
		Order("updated_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list project chats: %w", err)
	}
	return chats, nil
}

// SweepBlobs removes blob files no surviving row references. Meant to run
// once at startup; failures only cost disk space.
func (p *Provider) SweepBlobs(ctx context.Context) (int, error) {
	var refs []string
	if err := p.db.WithContext(ctx).Model(&models.ProjectFile{}).
		Pluck("blob_ref", &refs).Error; err != nil {
		return 0, fmt.Errorf("collect blob refs: %w", err)
	}

	inUse := make(map[string]bool, len(refs))
	for _, ref := range refs {
		inUse[ref] = true
	}
	return p.blobs.Sweep(inUse)
}

func (p *Provider) getProject(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	if err := p.db.WithContext(ctx).Preload("Files").First(&project, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &project, nil
}

// removeBlobIfUnreferenced unlinks ref when no file row uses it. Blob
// removal failures are logged, not surfaced; the startup sweep retries.
func (p *Provider) removeBlobIfUnreferenced(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	var count int64
	if err := p.db.WithContext(ctx).Model(&models.ProjectFile{}).
		Where("blob_ref = ?", ref).Count(&count).Error; err != nil {
		log.Printf("blob refcount %s: %v", ref, err)
		return
	}
	if count > 0 {
		return
	}
	if err := p.blobs.Remove(ref); err != nil {
		log.Printf("blob remove: %v", err)
	}
}
