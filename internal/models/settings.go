package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
	"time"
)

// SettingKey identifies one configuration variant.
type SettingKey string

const (
	SettingScoring       SettingKey = "scoring"
	SettingPaymentLimits SettingKey = "payment_limits"
	SettingCollection    SettingKey = "collection"
	SettingNotices       SettingKey = "notices"
)

// Setting is the closed set of configuration variants the engine reads.
// Implemented by ScoringConfig, PaymentLimitsConfig, CollectionConfig and NoticeConfig.
type Setting interface {
	Key() SettingKey
	Validate() error
}

func (ScoringConfig) Key() SettingKey       { return SettingScoring }
func (PaymentLimitsConfig) Key() SettingKey { return SettingPaymentLimits }
func (CollectionConfig) Key() SettingKey    { return SettingCollection }
func (NoticeConfig) Key() SettingKey        { return SettingNotices }

// SettingRecord is a stored, versioned setting payload.
type SettingRecord struct {
	Key       SettingKey      `json:"key"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DecodeSetting parses and validates a raw payload for key. Unknown keys,
// unknown fields and invalid values fail with a configuration error.
func DecodeSetting(key SettingKey, raw []byte) (Setting, error) {
	var s Setting
	var err error
	switch key {
	case SettingScoring:
		var v ScoringConfig
		v, err = decodeStrict[ScoringConfig](raw)
		s = v
	case SettingPaymentLimits:
		var v PaymentLimitsConfig
		v, err = decodeStrict[PaymentLimitsConfig](raw)
		s = v
	case SettingCollection:
		var v CollectionConfig
		v, err = decodeStrict[CollectionConfig](raw)
		s = v
	case SettingNotices:
		var v NoticeConfig
		v, err = decodeStrict[NoticeConfig](raw)
		s = v
	default:
		return nil, ConfigurationError("unknown setting key %q", key)
	}
	if err != nil {
		return nil, ConfigurationError("decode setting %s: %v", key, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeStrict[T any](raw []byte) (T, error) {
	var v T
	if len(bytes.TrimSpace(raw)) == 0 {
		return v, fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

// StageThreshold maps overdue days from MinOverdueDays upward to Stage.
type StageThreshold struct {
	MinOverdueDays int             `json:"min_overdue_days" yaml:"min_overdue_days"`
	Stage          CollectionStage `json:"stage" yaml:"stage"`
}

// CollectionConfig drives the escalation engine.
type CollectionConfig struct {
	StageThresholds []StageThreshold                  `json:"stage_thresholds" yaml:"stage_thresholds"`
	SLADays         map[CollectionStage]int           `json:"sla_days" yaml:"sla_days"`
	AssigneeGroups  map[CollectionStage]AssigneeGroup `json:"assignee_groups,omitempty" yaml:"assignee_groups,omitempty"`
}

// Validate requires thresholds that cover every overdueDays >= 0 and that
// never map a larger overdue count to an earlier stage.
func (c CollectionConfig) Validate() error {
	if len(c.StageThresholds) == 0 {
		return ConfigurationError("collection stage_thresholds are empty")
	}
	if c.StageThresholds[0].MinOverdueDays != 0 {
		return ConfigurationError("collection stage_thresholds must start at 0 overdue days, got %d",
			c.StageThresholds[0].MinOverdueDays)
	}
	for i, t := range c.StageThresholds {
		if t.Stage.Rank() == 0 || t.Stage == StageClosed {
			return ConfigurationError("collection stage_thresholds[%d] has invalid stage %q", i, t.Stage)
		}
		if i == 0 {
			continue
		}
		prev := c.StageThresholds[i-1]
		if t.MinOverdueDays <= prev.MinOverdueDays || !t.Stage.After(prev.Stage) {
			return ConfigurationError("collection stage_thresholds[%d] is not monotonic", i)
		}
	}
	for stage, days := range c.SLADays {
		if days < 0 {
			return ConfigurationError("collection sla_days for %s must be non-negative", stage)
		}
	}
	return nil
}

// StageFor returns the target stage for overdueDays.
func (c CollectionConfig) StageFor(overdueDays int) (CollectionStage, error) {
	if overdueDays < 0 {
		return "", ValidationError("overdue days must be non-negative, got %d", overdueDays)
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	stage := c.StageThresholds[0].Stage
	for _, t := range c.StageThresholds {
		if overdueDays < t.MinOverdueDays {
			break
		}
		stage = t.Stage
	}
	return stage, nil
}

// Deadline returns now plus the SLA window configured for stage.
func (c CollectionConfig) Deadline(stage CollectionStage, now time.Time) time.Time {
	return now.AddDate(0, 0, c.SLADays[stage])
}

// GroupFor returns the configured assignee group, falling back to the stage default.
func (c CollectionConfig) GroupFor(stage CollectionStage) AssigneeGroup {
	if g, ok := c.AssigneeGroups[stage]; ok {
		return g
	}
	return DefaultAssigneeGroup(stage)
}

// Template keys used by the engine.
const (
	TemplatePaymentReminder = "payment_reminder"
	TemplateDebtCollection  = "debt_collection"
)

// StageTemplateKey is the notice template raised when a goal enters stage.
func StageTemplateKey(stage CollectionStage) string {
	return "collection_" + string(stage)
}

// NoticeTemplate is a text/template pair rendered per notice.
type NoticeTemplate struct {
	Subject string `json:"subject" yaml:"subject"`
	Body    string `json:"body" yaml:"body"`
}

// NoticeConfig holds the templates notices are rendered with.
type NoticeConfig struct {
	Templates map[string]NoticeTemplate `json:"templates" yaml:"templates"`
}

// Validate requires at least the reminder and debt-collection templates and
// checks every template parses.
func (c NoticeConfig) Validate() error {
	for _, key := range []string{TemplatePaymentReminder, TemplateDebtCollection} {
		if _, ok := c.Templates[key]; !ok {
			return ConfigurationError("notices: template %q is missing", key)
		}
	}
	for key, t := range c.Templates {
		if t.Body == "" {
			return ConfigurationError("notices: template %q has an empty body", key)
		}
		if _, err := template.New(key).Option("missingkey=zero").Parse(t.Subject + t.Body); err != nil {
			return ConfigurationError("notices: template %q: %v", key, err)
		}
	}
	return nil
}

// Render fills the template registered under key with vars.
func (c NoticeConfig) Render(key string, vars map[string]string) (subject, body string, err error) {
	t, ok := c.Templates[key]
	if !ok {
		return "", "", ConfigurationError("notices: template %q is missing", key)
	}
	subject, err = renderText(key+".subject", t.Subject, vars)
	if err != nil {
		return "", "", err
	}
	body, err = renderText(key+".body", t.Body, vars)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func renderText(name, text string, vars map[string]string) (string, error) {
	tpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", ConfigurationError("notices: template %q: %v", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
