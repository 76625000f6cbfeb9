package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8090", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, 30*time.Minute, cfg.Demo.SessionTTL())
	assert.Equal(t, 5*time.Minute, cfg.Demo.ReapInterval())
	assert.Equal(t, 30*time.Second, cfg.Demo.GenerationTimeout())
	assert.Equal(t, DefaultQuestionLimit, cfg.Demo.QuestionLimit)
	assert.EqualValues(t, 10<<20, cfg.Demo.MaxUploadBytes)
	assert.Equal(t, "memory", cfg.Demo.SessionStore)
	assert.Equal(t, "file", cfg.Demo.DocumentStore)
	assert.Equal(t, "template", cfg.Demo.AnswerProvider)
	assert.Contains(t, cfg.Databases, "sqlite3")
	assert.NoError(t, cfg.validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEGALDEMO_MODE", "prod")

	cfg, err := Load(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultQuestionLimit, cfg.Demo.QuestionLimit)
	assert.Equal(t, "prod", cfg.BasicConfig.Mode)
	assert.Equal(t, filepath.Join(dir, "data", "demo"), cfg.Demo.FileBaseDir)
	assert.Equal(t, "file:legaldemo.db?_busy_timeout=5000", cfg.Databases["sqlite3"].DSN)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "mode": "prod"},
		"demo": {"session_ttl_minutes": 10, "question_limit": 3, "session_store": "sql", "file_base_dir": "blobs", "answer_provider": "openai"},
		"providers": {"openai": {"model": "gpt-4o-mini"}},
		"databases": {"sqlite3": {"dsn": "demo.db"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LEGALDEMO_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "prod", cfg.BasicConfig.Mode)
	assert.Equal(t, 10*time.Minute, cfg.Demo.SessionTTL())
	assert.Equal(t, 3, cfg.Demo.QuestionLimit)
	assert.Equal(t, 5*time.Minute, cfg.Demo.ReapInterval())
	assert.Equal(t, filepath.Join(dir, "blobs"), cfg.Demo.FileBaseDir)
	assert.Equal(t, filepath.Join(dir, "demo.db"), cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"session store":  `{"demo": {"session_store": "etcd"}}`,
		"document store": `{"demo": {"document_store": "s3"}}`,
		"provider":       `{"demo": {"answer_provider": "claude"}}`,
		"unknown":        `{"demo": {"answer_provider": "llama"}}`,
		"syntax":         `{"demo": `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
