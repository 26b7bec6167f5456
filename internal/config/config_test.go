package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/immotrack/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "drift", cfg.Ledger.AmountRevision)
	assert.Equal(t, []string{"sale_deed"}, cfg.Sale.RequiredDocuments)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "postgres://postgres:@localhost:5432/immotrack?sslmode=disable", cfg.ConnectionString())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("LEDGER_AMOUNT_REVISION", "redistribute")
	t.Setenv("SALE_REQUIRED_DOCUMENTS", "sale_deed,title_deed")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, "redistribute", cfg.Ledger.AmountRevision)
	assert.Equal(t, []string{"sale_deed", "title_deed"}, cfg.Sale.RequiredDocuments)
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	t.Setenv("LEDGER_AMOUNT_REVISION", "proportional")

	_, err := config.Load()
	assert.Error(t, err)
}
