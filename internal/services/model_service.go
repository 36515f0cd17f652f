package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"parley/internal/assets"
	"parley/internal/models"
	"parley/internal/storage"
)

// ModelSettingsStore is the slice of the conversation store the model
// service needs: the cached settings and the settings merge-patch.
type ModelSettingsStore interface {
	Settings() *models.Settings
	UpdateSettings(ctx context.Context, patch storage.SettingsPatch) (*models.Settings, error)
}

type ModelService interface {
	Startup(ctx context.Context) error
	ListModelGroups() ([]models.LLMModelGroup, error)
	EnabledModels() []models.LLMModel
	SetModelEnabled(modelKey string, enabled bool) (*models.LLMModel, error)
	SetProviderEnabled(provider string, enabled bool) ([]models.LLMModel, error)
	GetModel(modelKey string) (*models.LLMModel, error)
}

type modelService struct {
	store ModelSettingsStore
	ctx   context.Context

	mu            sync.RWMutex
	providerOrder []string
	providerNames map[string]string
	models        map[string]*catalogModel
	enabled       map[string]bool
}

type catalogModel struct {
	Key            string
	ProviderID     string
	Provider       string
	DisplayName    string
	APIName        string
	SupportsImages bool
}

type rawModelFile struct {
	Providers []rawProvider `json:"providers"`
}

type rawProvider struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Models      []rawModel `json:"models"`
}

type rawModel struct {
	DisplayName    string `json:"displayName"`
	APIName        string `json:"apiName"`
	SupportsImages bool   `json:"supportsImages,omitempty"`
}

func NewModelService(store ModelSettingsStore) ModelService {
	return &modelService{
		store:         store,
		models:        make(map[string]*catalogModel),
		enabled:       make(map[string]bool),
		providerNames: make(map[string]string),
		mu:            sync.RWMutex{},
	}
}

func (s *modelService) Startup(ctx context.Context) error {
	s.ctx = ctx

	var parsed rawModelFile
	if err := json.Unmarshal(assets.ModelsData, &parsed); err != nil {
		return fmt.Errorf("parse models asset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.providerOrder = make([]string, 0, len(parsed.Providers))
	for _, provider := range parsed.Providers {
		providerID := strings.TrimSpace(provider.ID)
		if providerID == "" {
			continue
		}
		providerName := strings.TrimSpace(provider.DisplayName)
		s.providerNames[providerID] = providerName
		s.providerOrder = append(s.providerOrder, providerID)
		for _, mdl := range provider.Models {
			key := computeModelKey(providerID, mdl)
			s.models[key] = &catalogModel{
				Key:            key,
				ProviderID:     providerID,
				Provider:       providerName,
				DisplayName:    strings.TrimSpace(mdl.DisplayName),
				APIName:        strings.TrimSpace(mdl.APIName),
				SupportsImages: mdl.SupportsImages,
			}
		}
	}

	// Enablement lives in settings. A fresh profile enables the full
	// catalog and persists that seed.
	stored := s.store.Settings()
	if stored == nil || len(stored.EnabledModels) == 0 {
		seed := make([]string, 0, len(s.models))
		for key := range s.models {
			s.enabled[key] = true
			seed = append(seed, key)
		}
		sort.Strings(seed)
		if _, err := s.store.UpdateSettings(ctx, storage.SettingsPatch{EnabledModels: &seed}); err != nil {
			return fmt.Errorf("seed enabled models: %w", err)
		}
		return nil
	}

	for _, key := range stored.EnabledModels {
		if _, ok := s.models[key]; ok {
			s.enabled[key] = true
		}
	}
	return nil
}

func (s *modelService) ListModelGroups() ([]models.LLMModelGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.LLMModelGroup, 0, len(s.providerOrder))
	for _, providerID := range s.providerOrder {
		group := models.LLMModelGroup{
			ProviderID:   providerID,
			ProviderName: s.providerName(providerID),
		}
		var modelsForProvider []models.LLMModel
		for _, mdl := range s.models {
			if mdl.ProviderID != providerID {
				continue
			}
			modelsForProvider = append(modelsForProvider, s.toLLMModel(mdl))
		}
		sort.SliceStable(modelsForProvider, func(i, j int) bool {
			return strings.ToLower(modelsForProvider[i].DisplayName) < strings.ToLower(modelsForProvider[j].DisplayName)
		})
		group.Models = modelsForProvider
		groups = append(groups, group)
	}
	return groups, nil
}

func (s *modelService) EnabledModels() []models.LLMModel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LLMModel
	for _, mdl := range s.models {
		if s.enabled[mdl.Key] {
			out = append(out, s.toLLMModel(mdl))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	return out
}

func (s *modelService) SetModelEnabled(modelKey string, enabled bool) (*models.LLMModel, error) {
	modelKey = strings.TrimSpace(modelKey)
	if modelKey == "" {
		return nil, fmt.Errorf("model key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	catalog, ok := s.models[modelKey]
	if !ok {
		return nil, fmt.Errorf("model %s not found", modelKey)
	}

	s.enabled[modelKey] = enabled
	if err := s.persistEnabledLocked(); err != nil {
		s.enabled[modelKey] = !enabled
		return nil, err
	}
	model := s.toLLMModel(catalog)
	return &model, nil
}

func (s *modelService) SetProviderEnabled(provider string, enabled bool) ([]models.LLMModel, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]models.LLMModel, 0)
	for _, mdl := range s.models {
		if mdl.ProviderID != provider {
			continue
		}
		s.enabled[mdl.Key] = enabled
		updated = append(updated, s.toLLMModel(mdl))
	}
	if len(updated) == 0 {
		return nil, fmt.Errorf("provider %s not found", provider)
	}
	if err := s.persistEnabledLocked(); err != nil {
		for _, mdl := range updated {
			s.enabled[mdl.Key] = !enabled
		}
		return nil, err
	}

	sort.SliceStable(updated, func(i, j int) bool {
		return strings.ToLower(updated[i].DisplayName) < strings.ToLower(updated[j].DisplayName)
	})
	return updated, nil
}

func (s *modelService) GetModel(modelKey string) (*models.LLMModel, error) {
	modelKey = strings.TrimSpace(modelKey)
	if modelKey == "" {
		return nil, fmt.Errorf("model key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog, ok := s.models[modelKey]
	if !ok {
		return nil, fmt.Errorf("model %s not found", modelKey)
	}
	model := s.toLLMModel(catalog)
	return &model, nil
}

// persistEnabledLocked writes the current enablement set through the store.
// Callers hold s.mu.
func (s *modelService) persistEnabledLocked() error {
	keys := make([]string, 0, len(s.enabled))
	for key, on := range s.enabled {
		if on {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	_, err := s.store.UpdateSettings(s.ctx, storage.SettingsPatch{EnabledModels: &keys})
	if err != nil {
		return fmt.Errorf("persist enabled models: %w", err)
	}
	return nil
}

func (s *modelService) providerName(providerID string) string {
	if name, ok := s.providerNames[providerID]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	return providerID
}

func (s *modelService) toLLMModel(mdl *catalogModel) models.LLMModel {
	return models.LLMModel{
		Key:            mdl.Key,
		DisplayName:    mdl.DisplayName,
		APIName:        mdl.APIName,
		ProviderID:     mdl.ProviderID,
		ProviderName:   mdl.Provider,
		SupportsImages: mdl.SupportsImages,
		Enabled:        s.enabled[mdl.Key],
	}
}

func computeModelKey(providerID string, mdl rawModel) string {
	return strings.TrimSpace(providerID) + "|" + strings.TrimSpace(mdl.APIName)
}
