package calendar

import (
	"fmt"
	"strings"
)

// ConflictResolution names the strategy applied when local and remote copies
// of an event diverge.
type ConflictResolution string

const (
	KeepLocal  ConflictResolution = "keep_local"
	KeepRemote ConflictResolution = "keep_remote"
	Merge      ConflictResolution = "merge"
	AskUser    ConflictResolution = "ask_user"
)

// DurationType selects between all-day and timed events.
type DurationType string

const (
	DurationAllDay DurationType = "all_day"
	DurationTimed  DurationType = "timed"
)

// EventTemplate describes how calendar events are generated from bill data.
// Title and description templates accept {name}, {amount}, {category} and
// {due_date} placeholders.
type EventTemplate struct {
	TitleTemplate       string            `json:"title_template"`
	DescriptionTemplate string            `json:"description_template"`
	DurationType        DurationType      `json:"duration_type"`
	DurationMinutes     int               `json:"duration_minutes"`
	DefaultColor        string            `json:"default_color,omitempty"`
	CategoryColors      map[string]string `json:"category_colors,omitempty"`
}

// DefaultEventTemplate returns the built-in template.
func DefaultEventTemplate() EventTemplate {
	return EventTemplate{
		TitleTemplate:       "[Bill] {name} - ${amount}",
		DescriptionTemplate: "Bill: {name}\nAmount: ${amount}\nCategory: {category}\nDue Date: {due_date}",
		DurationType:        DurationAllDay,
		DurationMinutes:     60,
		DefaultColor:        "#1f538d",
	}
}

// Validate checks the template fields.
func (t *EventTemplate) Validate() error {
	if strings.TrimSpace(t.TitleTemplate) == "" {
		return NewValidationError("title template is required", "title_template")
	}
	if len(t.TitleTemplate) > 255 {
		return NewValidationError("title template cannot exceed 255 characters", "title_template")
	}
	if len(t.DescriptionTemplate) > 2048 {
		return NewValidationError("description template cannot exceed 2048 characters", "description_template")
	}
	switch t.DurationType {
	case DurationAllDay, DurationTimed:
	default:
		return NewValidationError("duration type must be all_day or timed", "duration_type")
	}
	if t.DurationMinutes <= 0 {
		return NewValidationError("duration must be positive", "duration_minutes")
	}
	if t.DurationMinutes > 1440 {
		return NewValidationError("duration cannot exceed 24 hours", "duration_minutes")
	}
	if t.DefaultColor != "" && !hexColorRe.MatchString(t.DefaultColor) {
		return NewValidationError("default color must be in hex format (#RRGGBB)", "default_color")
	}
	for category, color := range t.CategoryColors {
		if !hexColorRe.MatchString(color) {
			return NewValidationError(fmt.Sprintf("category color for %q must be in hex format (#RRGGBB)", category), "category_colors")
		}
	}
	return nil
}

// ColorFor returns the color for a bill category, falling back to the
// template default.
func (t *EventTemplate) ColorFor(category string) string {
	if color, ok := t.CategoryColors[category]; ok {
		return color
	}
	return t.DefaultColor
}

// SyncSettings is the per-installation sync configuration.
type SyncSettings struct {
	EnabledProviders     []string           `json:"enabled_providers"`
	SyncCategories       []int64            `json:"sync_categories"`
	SyncIndividualBills  map[int64]bool     `json:"sync_individual_bills"`
	EventTemplate        EventTemplate      `json:"event_template"`
	SyncFrequencyMinutes int                `json:"sync_frequency_minutes"`
	AutoSyncEnabled      bool               `json:"auto_sync_enabled"`
	SyncOnBillChange     bool               `json:"sync_on_bill_change"`
	ConflictResolution   ConflictResolution `json:"conflict_resolution"`
	MaxSyncAgeDays       int                `json:"max_sync_age_days"`
}

// DefaultSyncSettings returns settings with sync enabled everywhere.
func DefaultSyncSettings() *SyncSettings {
	return &SyncSettings{
		SyncIndividualBills:  map[int64]bool{},
		EventTemplate:        DefaultEventTemplate(),
		SyncFrequencyMinutes: 60,
		AutoSyncEnabled:      true,
		SyncOnBillChange:     true,
		ConflictResolution:   AskUser,
		MaxSyncAgeDays:       365,
	}
}

// Validate checks the settings and normalizes provider names.
func (s *SyncSettings) Validate() error {
	for i, provider := range s.EnabledProviders {
		if !ValidProvider(provider) {
			return NewValidationError(fmt.Sprintf("invalid provider %q, must be one of: google, outlook, apple", provider), "enabled_providers")
		}
		s.EnabledProviders[i] = strings.ToLower(provider)
	}
	if err := s.EventTemplate.Validate(); err != nil {
		return err
	}
	if s.SyncFrequencyMinutes <= 0 {
		return NewValidationError("sync frequency must be positive", "sync_frequency_minutes")
	}
	if s.SyncFrequencyMinutes > 10080 {
		return NewValidationError("sync frequency cannot exceed 1 week", "sync_frequency_minutes")
	}
	switch s.ConflictResolution {
	case KeepLocal, KeepRemote, Merge, AskUser:
	default:
		return NewValidationError("invalid conflict resolution strategy", "conflict_resolution")
	}
	if s.MaxSyncAgeDays <= 0 {
		return NewValidationError("max sync age must be positive", "max_sync_age_days")
	}
	if s.MaxSyncAgeDays > 3650 {
		return NewValidationError("max sync age cannot exceed 10 years", "max_sync_age_days")
	}
	for _, categoryID := range s.SyncCategories {
		if categoryID <= 0 {
			return NewValidationError("category IDs must be positive integers", "sync_categories")
		}
	}
	for billID := range s.SyncIndividualBills {
		if billID <= 0 {
			return NewValidationError("bill IDs must be positive integers", "sync_individual_bills")
		}
	}
	return nil
}

// IsBillSyncEnabled resolves whether a bill should be synced. The individual
// override wins; otherwise, when sync categories are configured, the bill's
// category must be among them (an uncategorized bill is excluded, pass
// categoryID 0 for none); with no category filter sync defaults to enabled.
func (s *SyncSettings) IsBillSyncEnabled(billID, categoryID int64) bool {
	if enabled, ok := s.SyncIndividualBills[billID]; ok {
		return enabled
	}
	if len(s.SyncCategories) > 0 {
		if categoryID == 0 {
			return false
		}
		for _, id := range s.SyncCategories {
			if id == categoryID {
				return true
			}
		}
		return false
	}
	return true
}

// ProviderEnabled reports whether a provider is in the enabled set.
func (s *SyncSettings) ProviderEnabled(provider string) bool {
	provider = strings.ToLower(provider)
	for _, p := range s.EnabledProviders {
		if p == provider {
			return true
		}
	}
	return false
}
