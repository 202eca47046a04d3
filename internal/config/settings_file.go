package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Dan9191/loan-servicing/internal/models"
)

type settingsFile struct {
	Scoring       *models.ScoringConfig       `yaml:"scoring"`
	PaymentLimits *models.PaymentLimitsConfig `yaml:"payment_limits"`
	Collection    *models.CollectionConfig    `yaml:"collection"`
	Notices       *models.NoticeConfig        `yaml:"notices"`
}

// LoadSettingsFile reads engine settings from a YAML seed file.
func LoadSettingsFile(path string) ([]models.Setting, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes a YAML settings document. Sections that are present
// are validated; absent sections are skipped.
func ParseSettings(data []byte) ([]models.Setting, error) {
	var f settingsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, models.ConfigurationError("parse settings: %v", err)
	}

	var out []models.Setting
	if f.Scoring != nil {
		out = append(out, *f.Scoring)
	}
	if f.PaymentLimits != nil {
		out = append(out, *f.PaymentLimits)
	}
	if f.Collection != nil {
		out = append(out, *f.Collection)
	}
	if f.Notices != nil {
		out = append(out, *f.Notices)
	}
	for _, s := range out {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
