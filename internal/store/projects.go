package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"parley/internal/events"
	"parley/internal/models"
	"parley/internal/storage"
)

// CreateProject persists first and caches on success. Projects skip the
// optimistic temp-id machinery: the durable id anchors file uploads and
// chat assignment, so nothing useful can happen before the row exists.
func (s *Store) CreateProject(ctx context.Context, data storage.CreateProjectData) (*models.Project, error) {
	project, err := s.provider().CreateProject(ctx, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.projects = append(s.projects, *project)
	s.mu.Unlock()

	s.bus.Publish(events.ProjectCreated, project)
	return project, nil
}

// UpdateProject applies the patch to the cache, publishes, and persists in
// the background.
func (s *Store) UpdateProject(ctx context.Context, projectID string, patch storage.ProjectPatch) (*models.Project, error) {
	s.mu.Lock()
	project := s.findProjectLocked(projectID)
	if project == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("project %s is not cached", projectID)
	}
	if patch.Name != nil {
		project.Name = *patch.Name
	}
	if patch.Description != nil {
		project.Description = *patch.Description
	}
	if patch.Instructions != nil {
		project.Instructions = *patch.Instructions
	}
	project.UpdatedAt = time.Now()
	out := *project
	s.mu.Unlock()

	s.bus.Publish(events.ProjectUpdated, &out)

	go func() {
		if _, err := s.provider().UpdateProject(context.Background(), projectID, patch); err != nil {
			log.Printf("store: background project update %s: %v", projectID, err)
		}
	}()

	return &out, nil
}

// DeleteProject is synchronous: the cascade detaches chats and frees files,
// which changes what the UI may show, so the cache only updates on success.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	if err := s.provider().DeleteProject(ctx, projectID); err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.projects {
		if s.projects[i].ID == projectID {
			s.projects = append(s.projects[:i], s.projects[i+1:]...)
			break
		}
	}
	for _, c := range s.chats {
		if c.ProjectID != nil && *c.ProjectID == projectID {
			c.ProjectID = nil
		}
	}
	wasFiltered := s.currentProjectID == projectID
	s.mu.Unlock()

	s.bus.Publish(events.ProjectDeleted, projectID)

	if wasFiltered {
		return s.SelectProject(ctx, "")
	}
	return nil
}

// AddProjectFile uploads synchronously so size and type validation reach
// the caller, then refreshes the cached project.
func (s *Store) AddProjectFile(ctx context.Context, projectID string, data storage.FileData) (*models.ProjectFile, error) {
	file, err := s.provider().AddProjectFile(ctx, projectID, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	var out *models.Project
	if p := s.findProjectLocked(projectID); p != nil {
		p.Files = append(p.Files, *file)
		cp := *p
		out = &cp
	}
	s.mu.Unlock()

	if out != nil {
		s.bus.Publish(events.ProjectUpdated, out)
	}
	return file, nil
}

// RemoveProjectFile deletes the file synchronously and refreshes the cached
// project.
func (s *Store) RemoveProjectFile(ctx context.Context, projectID, fileID string) error {
	if err := s.provider().RemoveProjectFile(ctx, projectID, fileID); err != nil {
		return err
	}

	s.mu.Lock()
	var out *models.Project
	if p := s.findProjectLocked(projectID); p != nil {
		for i := range p.Files {
			if p.Files[i].ID == fileID {
				p.Files = append(p.Files[:i], p.Files[i+1:]...)
				break
			}
		}
		cp := *p
		out = &cp
	}
	s.mu.Unlock()

	if out != nil {
		s.bus.Publish(events.ProjectUpdated, out)
	}
	return nil
}

// ProjectChats lists every chat assigned to a project, unpaged.
func (s *Store) ProjectChats(ctx context.Context, projectID string) ([]models.Chat, error) {
	return s.provider().GetProjectChats(ctx, projectID)
}
