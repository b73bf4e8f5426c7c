package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/text2sql/internal/model"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, registerDefaults(model.DefaultConfig()))
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), *cfg)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("TEXT2SQL_LLM_PROVIDER", "deepseek")
	t.Setenv("TEXT2SQL_LLM_API_KEY", "sk-test")
	t.Setenv("TEXT2SQL_CACHE_MEMORY_TTL", "5m")
	t.Setenv("TEXT2SQL_RULES_TABLE", "dtsupply_summary")
	resetViper(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 5*time.Minute, cfg.Cache.MemoryTTL)
	assert.Equal(t, "dtsupply_summary", cfg.Rules.Table)
}

func TestLoadConfig_File(t *testing.T) {
	resetViper(t)

	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(`
rules:
  path: rules.yaml
  builtin_time: false
history:
  driver: postgres
  dsn: postgres://localhost/text2sql?sslmode=disable
score:
  valid_tables: [dtsupply_summary]
`)))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "rules.yaml", cfg.Rules.Path)
	assert.False(t, cfg.Rules.BuiltinTime)
	assert.Equal(t, "postgres", cfg.History.Driver)
	assert.Equal(t, []string{"dtsupply_summary"}, cfg.Score.ValidTables)
	// Untouched sections keep their defaults
	assert.Equal(t, model.DefaultConfig().Server, cfg.Server)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	require.NoError(t, writeDefaultConfig(path, model.DefaultConfig()))

	resetViper(t)
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), *cfg)
}
