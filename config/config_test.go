package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPSK = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const sampleConfig = `{
  "log": {"level": "info", "path": "mlbond.log"},
  "loss_tolerence": 10,
  "tunnels": [
    {"name": "wan1", "role": "client", "dest": "203.0.113.1:5000", "psk": "` + testPSK + `"},
    {"name": "wan2", "role": "server", "bind": "0.0.0.0:5000", "psk": "` + testPSK + `"}
  ]
}`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setting.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Tunnels, 2)
	assert.EqualValues(t, 10, cfg.LossTolerence)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeTemp(t, `{"tunnels":[{"name":"a","role":"client","dest":"1.2.3.4:1","cleartext_data":true},{"name":"a","role":"client","dest":"1.2.3.4:2","cleartext_data":true}]}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingDestForClient(t *testing.T) {
	path := writeTemp(t, `{"tunnels":[{"name":"a","role":"client"}]}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestTwoReloadsOfIdenticalConfigProduceIdenticalTunnelSets(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, first.Tunnels, second.Tunnels)
}

func TestApplyPermittedOverride(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyPermittedOverride("wan1:10m"))
	assert.EqualValues(t, 10*1024*1024, cfg.Tunnels[0].Permitted)
}

func TestApplyPermittedOverrideUnknownTunnel(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.ApplyPermittedOverride("nope:10m")
	assert.Error(t, err)
}

func TestParseByteSuffixed(t *testing.T) {
	v, err := parseByteSuffixed("512k")
	require.NoError(t, err)
	assert.EqualValues(t, 512*1024, v)

	v, err = parseByteSuffixed("7")
	require.NoError(t, err)
	assert.EqualValues(t, 7, v)
}
