package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "coverage", cfg.MatchScorer)
	assert.InDelta(t, 0.2, cfg.MatchThreshold, 1e-9)
	assert.Equal(t, 5, cfg.MatchCandidates)
	assert.False(t, cfg.MultiInstance)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SESSION_STORE_TIMEOUT", "1")
	t.Setenv("SESSION_STORE_MULTI_INSTANCE", "true")
	t.Setenv("MATCH_SCORER", "Jaccard")
	t.Setenv("MATCH_THRESHOLD", "0.35")
	t.Setenv("SWEEP_CRON", "*/2 * * * *")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Second, cfg.SessionStoreTimeout)
	assert.True(t, cfg.MultiInstance)
	assert.Equal(t, "jaccard", cfg.MatchScorer)
	assert.InDelta(t, 0.35, cfg.MatchThreshold, 1e-9)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad cron", func(c *Config) { c.SweepCron = "every minute" }},
		{"unknown scorer", func(c *Config) { c.MatchScorer = "embedding" }},
		{"threshold out of range", func(c *Config) { c.MatchThreshold = 1.5 }},
		{"zero attempts", func(c *Config) { c.SessionMaxAttempts = 0 }},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"telegram without secret", func(c *Config) { c.TelegramBotToken = "123:abc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadExperts_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
experts:
  - id: finance
    name: Finance Desk
    channel: DingTalk
    user_id: staff-42
    domains: [报销, expense, invoice]
  - id: it
    name: IT Helpdesk
    channel: telegram
    user_id: "1001"
    domains: [vpn, printer]
    default: true
`), 0o600))

	experts, err := LoadExperts(path)
	require.NoError(t, err)
	require.Len(t, experts, 2)
	assert.Equal(t, models.ChannelDingTalk, experts[0].Channel)
	assert.Equal(t, []string{"报销", "expense", "invoice"}, experts[0].Domains)
	assert.True(t, experts[1].Default)
}

func TestLoadExperts_InvalidChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experts.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
experts:
  - id: x
    channel: email
    user_id: someone
`), 0o600))

	_, err := LoadExperts(path)
	assert.Error(t, err)
}

func TestLoadExperts_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experts.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"ID", "Name", "Channel", "User_ID", "Domains", "Default"},
		{"finance", "Finance Desk", "dingtalk", "staff-42", "报销，expense, invoice", "false"},
		{"", "", "", "", "", ""},
		{"it", "IT Helpdesk", "web", "it-oncall", "vpn;printer", "true"},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	experts, err := LoadExperts(path)
	require.NoError(t, err)
	require.Len(t, experts, 2)
	assert.Equal(t, "finance", experts[0].ID)
	assert.Equal(t, []string{"报销", "expense", "invoice"}, experts[0].Domains)
	assert.Equal(t, models.ChannelWeb, experts[1].Channel)
	assert.Equal(t, []string{"vpn", "printer"}, experts[1].Domains)
	assert.True(t, experts[1].Default)
}

func TestLoadExperts_Missing(t *testing.T) {
	experts, err := LoadExperts(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, experts)

	_, err = LoadExperts(writeTemp(t, "roster.csv", "id,channel"))
	assert.Error(t, err)
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
