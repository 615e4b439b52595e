package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(tool Tool) *viper.Viper {
	v := viper.New()
	SetDefaults(v, tool)
	return v
}

func TestLoadBackgenDefaults(t *testing.T) {
	v := newViper(Backgen)
	v.Set(KeyInput, "in.mp4")

	cfg, err := Load(v, Backgen)
	require.NoError(t, err)

	assert.Equal(t, "in.mp4", cfg.Input)
	assert.True(t, cfg.Background)
	assert.False(t, cfg.Deflicker)
	assert.Equal(t, DefaultWeight, cfg.Weight)
	assert.Equal(t, DefaultThreshold, cfg.Threshold)
	assert.Equal(t, DefaultJoinWeight, cfg.JoinWeight)
	assert.Equal(t, DefaultCodec, cfg.Codec)
	assert.True(t, cfg.Preview())
}

func TestLoadDeflickerReadsWeightAsJoinWeight(t *testing.T) {
	v := newViper(Deflicker)
	v.Set(KeyInput, "in.mp4")

	cfg, err := Load(v, Deflicker)
	require.NoError(t, err)
	assert.False(t, cfg.Background)
	assert.True(t, cfg.Deflicker)
	assert.Equal(t, DefaultDeflickerJoinWeight, cfg.JoinWeight)

	v.Set(KeyWeight, 5)
	cfg, err = Load(v, Deflicker)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.JoinWeight)

	v.Set(KeyWeight, 20.7)
	cfg, err = Load(v, Deflicker)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.JoinWeight)

	for _, bad := range []float64{-0.5, -3, math.NaN(), math.Inf(1)} {
		v.Set(KeyWeight, bad)
		_, err = Load(v, Deflicker)
		assert.ErrorIs(t, err, ErrInvalidParameter, "weight %v", bad)
	}
}

func TestLoadMissingInput(t *testing.T) {
	_, err := Load(newViper(Backgen), Backgen)
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestValidateRanges(t *testing.T) {
	base := func() *Config {
		return &Config{Input: "x", Background: true, Weight: 0.5, Threshold: 1, Codec: "mp4v"}
	}

	cases := map[string]func(c *Config){
		"zero weight":      func(c *Config) { c.Weight = 0 },
		"nan weight":       func(c *Config) { c.Weight = math.NaN() },
		"threshold low":    func(c *Config) { c.Threshold = 0 },
		"threshold high":   func(c *Config) { c.Threshold = 256 },
		"negative join":    func(c *Config) { c.Deflicker = true; c.JoinWeight = -1 },
		"bad codec":        func(c *Config) { c.Codec = "h264x" },
		"negative workers": func(c *Config) { c.Workers = -2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidParameter)
		})
	}

	c := base()
	c.Weight = math.Inf(1)
	c.Threshold = 255
	assert.NoError(t, c.Validate())
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("BACKPLATE_THRESHOLD", "12")
	t.Setenv("BACKPLATE_JOIN_WEIGHT", "4")

	v := newViper(Backgen)
	v.Set(KeyInput, "in.mp4")
	cfg, err := Load(v, Backgen)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Threshold)
	assert.Equal(t, 4, cfg.JoinWeight)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backplate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input: clip.mp4\nthreshold: 9\ndeflicker: true\n"), 0o644))

	v := newViper(Backgen)
	v.Set(KeyConfig, path)
	cfg, err := Load(v, Backgen)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", cfg.Input)
	assert.Equal(t, 9, cfg.Threshold)
	assert.True(t, cfg.Deflicker)
}

func TestLoadConfigFileMissing(t *testing.T) {
	v := newViper(Backgen)
	v.Set(KeyConfig, filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load(v, Backgen)
	assert.Error(t, err)
}
