package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	content := "SERVER_PORT=9090\n" +
		"KATAGO_PATH=/opt/katago/katago\n" +
		"KATAGO_MODEL=/opt/katago/model.bin.gz\n" +
		"KATAGO_CONFIG=/opt/katago/analysis.cfg\n" +
		"DEFAULT_MAX_VISITS=500\n" +
		"LOCAL_CORS=true\n"

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Setup(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "/opt/katago/katago", cfg.KatagoPath)
	assert.Equal(t, "/opt/katago/model.bin.gz", cfg.KatagoModel)
	assert.Equal(t, 500, cfg.DefaultMaxVisits)
	assert.True(t, cfg.IsLocalCors)

	// unset keys get their defaults
	assert.Equal(t, 300, cfg.ResponseTimeoutSec)
	assert.Equal(t, 600, cfg.CacheTTLSec)
	assert.Equal(t, "./static", cfg.StaticDir)
}

func TestSetupMissingFile(t *testing.T) {
	_, err := Setup(filepath.Join(t.TempDir(), "nope.env"))
	require.Error(t, err)
}
