package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
identity:
  owner_name: Ada
gateway:
  dry_run: false
  port: 5050
channels:
  - id: mail
    type: email
    account: ada@example.com
    auto_reply: true
    config:
      imap_host: imap.example.com
      delete_after_read: "true"
  - id: issues
    type: github
    base_url: https://api.github.com
    account: ada
    enabled: false
    poll_interval_sec: 300
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Gateway.DryRun)
	assert.Equal(t, "127.0.0.1:5000", cfg.Gateway.Addr())
	assert.Equal(t, "llama3.2:3b", cfg.AI.Model)
	assert.Empty(t, cfg.Channels)
}

func TestLoadConfigAppliesChannelDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "Ada", cfg.Identity.OwnerName)
	assert.Equal(t, "LocalClaw", cfg.Identity.AssistantName)
	assert.False(t, cfg.Gateway.DryRun)
	assert.Equal(t, 5050, cfg.Gateway.Port)

	require.Len(t, cfg.Channels, 2)
	mail := cfg.Channels[0]
	assert.True(t, mail.Enabled, "unset enabled defaults to true")
	assert.Equal(t, 60, mail.PollIntervalSec)
	assert.Equal(t, "mail", mail.Name)
	assert.True(t, mail.AutoReply)
	assert.True(t, mail.BoolSetting("delete_after_read", false))
	assert.Equal(t, "993", mail.Setting("imap_port", "993"))

	issues := cfg.Channels[1]
	assert.False(t, issues.Enabled)
	assert.Equal(t, 300, issues.PollIntervalSec)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("LOCALCLAW_GATEWAY_PORT", "6060")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Gateway.Port)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Gateway.Port = 0
	cfg.Channels = []ChannelConfig{
		{ID: "a", Type: "email", Enabled: true},
		{ID: "a", Type: "fax"},
		{Type: "github"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"gateway.port 0 out of range",
		`channel "a": config.imap_host is required`,
		`channel "a": account is required`,
		`duplicate channel id "a"`,
		`unknown type "fax"`,
		"channel without id",
	} {
		assert.ErrorContains(t, err, want)
	}

	cfg = DefaultAppConfig()
	assert.ErrorContains(t, cfg.Validate(), "no enabled channels configured")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultAppConfig()
	cfg.Identity.OwnerName = "Grace"
	cfg.Channels = []ChannelConfig{{ID: "temp", Name: "Temp", Type: "guerrilla", Enabled: true, PollIntervalSec: 45}}

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Grace", loaded.Identity.OwnerName)
	require.Len(t, loaded.Channels, 1)
	assert.Equal(t, 45, loaded.Channels[0].PollIntervalSec)
	assert.Equal(t, "guerrilla", loaded.Channels[0].Type)
}
