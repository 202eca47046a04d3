package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/loan-servicing/internal/models"
)

func TestLoadSettingsFile_Seed(t *testing.T) {
	settings, err := LoadSettingsFile("../../configs/settings.yaml")
	require.NoError(t, err)
	require.Len(t, settings, 4)

	byKey := make(map[models.SettingKey]models.Setting)
	for _, s := range settings {
		byKey[s.Key()] = s
	}

	scoring, ok := byKey[models.SettingScoring].(models.ScoringConfig)
	require.True(t, ok)
	assert.Equal(t, 500, scoring.InitialScore)
	assert.Equal(t, []int{25, 15}, scoring.GuarantorBonuses)
	require.NotNil(t, scoring.Tiers.Low.Min)
	assert.Equal(t, 600, *scoring.Tiers.Low.Min)

	limits, ok := byKey[models.SettingPaymentLimits].(models.PaymentLimitsConfig)
	require.True(t, ok)
	assert.Equal(t, []models.Channel{models.ChannelSMS, models.ChannelEmail}, limits.ReminderChannels)
	assert.Equal(t, "300000", limits.MaxAmount.String())

	collection, ok := byKey[models.SettingCollection].(models.CollectionConfig)
	require.True(t, ok)
	assert.Equal(t, 2, collection.SLADays[models.StageClientCall])
	assert.Equal(t, models.GroupFieldAgents, collection.GroupFor(models.StageFieldVisit))
}

func TestParseSettings(t *testing.T) {
	t.Run("unknown section is rejected", func(t *testing.T) {
		_, err := ParseSettings([]byte("chat:\n  enabled: true\n"))
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("invalid stage name is rejected", func(t *testing.T) {
		doc := "collection:\n  stage_thresholds:\n    - { min_overdue_days: 0, stage: LUNCH }\n"
		_, err := ParseSettings([]byte(doc))
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("sections are validated", func(t *testing.T) {
		doc := "payment_limits:\n  min_amount: \"10\"\n  max_amount: \"5\"\n"
		_, err := ParseSettings([]byte(doc))
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("empty document", func(t *testing.T) {
		settings, err := ParseSettings(nil)
		require.NoError(t, err)
		assert.Empty(t, settings)
	})
}
