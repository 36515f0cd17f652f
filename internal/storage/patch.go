package storage

import (
	"gorm.io/datatypes"

	"parley/internal/models"
)

// Apply merges the patch into s field by field. Nil patch fields keep
// prior values.
func (p SettingsPatch) Apply(s *models.Settings) {
	if p.APIKey != nil {
		s.APIKey = *p.APIKey
	}
	if p.SelectedModel != nil {
		s.SelectedModel = *p.SelectedModel
	}
	if p.EnabledModels != nil {
		s.EnabledModels = datatypes.NewJSONSlice(*p.EnabledModels)
	}
	if p.WebSearchEnabled != nil {
		s.WebSearchEnabled = *p.WebSearchEnabled
	}
}
