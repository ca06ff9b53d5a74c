package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/preprocess"
)

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	o, err := Default().Engine.Options()
	require.NoError(t, err)
	assert.Equal(t, capture.DefaultOptions(), o)
	assert.NoError(t, Default().Validate())
}

func TestLoadKeepsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"engine": {"dropFrames": true, "fetchTimeout": 250, "debayerMethod": "nearest"}, "server": {"port": 8080}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9998, cfg.Server.WebdavPort)
	assert.Equal(t, BackendSim, cfg.Driver.Backend)

	o, err := cfg.Engine.Options()
	require.NoError(t, err)
	assert.True(t, o.DropFrames)
	assert.Equal(t, 250*time.Millisecond, o.FetchTimeout)
	assert.Equal(t, preprocess.Nearest, o.DebayerMethod)
	assert.Equal(t, 8, o.NumDMABuffers)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Driver.Backend = BackendV4L2
	cfg.Driver.Devices = []string{"/dev/video2"}
	cfg.Engine.CorruptFramePolicy = "drop"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{
		"backend":    `{"driver": {"backend": "firewire"}}`,
		"buffers":    `{"engine": {"numDmaBuffers": 0}}`,
		"conversion": `{"engine": {"dataConversionMode": 7}}`,
		"policy":     `{"engine": {"corruptFramePolicy": "explode"}}`,
		"syntax":     `{"engine": `,
	} {
		path := filepath.Join(dir, name+".json")
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
