// Package config resolves run parameters from flags, environment variables
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrMissingInput     = errors.New("missing input")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// EnvPrefix namespaces environment overrides, e.g. BACKPLATE_THRESHOLD.
const EnvPrefix = "BACKPLATE"

// Keys shared by both tools. They match the flag names.
const (
	KeyConfig      = "config"
	KeyInput       = "input"
	KeyOutput      = "output"
	KeyVideoOutput = "vidoutput"
	KeyWeight      = "weight"
	KeyThreshold   = "threshold"
	KeyJoinWeight  = "join-weight"
	KeyDeflicker   = "deflicker"
	KeySilent      = "silent"
	KeySideBySide  = "sidebyside"
	KeyPlatform    = "platform"
	KeyDevice      = "device"
	KeyWorkers     = "workers"
	KeyCodec       = "codec"
	KeyLogLevel    = "log-level"
	KeyLogPretty   = "log-pretty"
)

// Tool identifies which command a configuration is resolved for. The two
// tools read the "weight" key differently.
type Tool int

const (
	Backgen Tool = iota
	Deflicker
)

func (t Tool) String() string {
	if t == Deflicker {
		return "deflicker"
	}
	return "backgen"
}

// Defaults for values not set anywhere.
const (
	DefaultWeight              = 0.5
	DefaultThreshold           = 1
	DefaultJoinWeight          = 30
	DefaultDeflickerJoinWeight = 20
	DefaultCodec               = "mp4v"
	DefaultLogLevel            = "info"
)

type Config struct {
	Tool Tool

	Input       string
	Output      string
	VideoOutput string

	// Weight is the background weight per second of video; the per-frame
	// weight is Weight*fps. Unused by the deflicker tool.
	Weight     float64
	Threshold  int
	JoinWeight int

	// Background and Deflicker select the processing stages of the run.
	Background bool
	Deflicker  bool

	Silent     bool
	SideBySide bool

	Platform int
	Device   int
	Workers  int
	Codec    string

	LogLevel  string
	LogPretty bool
}

// SetDefaults registers the defaults of tool on v.
func SetDefaults(v *viper.Viper, tool Tool) {
	v.SetDefault(KeyThreshold, DefaultThreshold)
	v.SetDefault(KeyJoinWeight, DefaultJoinWeight)
	v.SetDefault(KeyCodec, DefaultCodec)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	if tool == Deflicker {
		v.SetDefault(KeyWeight, DefaultDeflickerJoinWeight)
	} else {
		v.SetDefault(KeyWeight, DefaultWeight)
	}
}

// Load resolves and validates the configuration of tool from v. Environment
// variables prefixed with EnvPrefix override the config file; flags bound to
// v override both.
func Load(v *viper.Viper, tool Tool) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Tool:        tool,
		Input:       v.GetString(KeyInput),
		Output:      v.GetString(KeyOutput),
		VideoOutput: v.GetString(KeyVideoOutput),
		Silent:      v.GetBool(KeySilent),
		SideBySide:  v.GetBool(KeySideBySide),
		Platform:    v.GetInt(KeyPlatform),
		Device:      v.GetInt(KeyDevice),
		Workers:     v.GetInt(KeyWorkers),
		Codec:       v.GetString(KeyCodec),
		LogLevel:    v.GetString(KeyLogLevel),
		LogPretty:   v.GetBool(KeyLogPretty),
	}

	switch tool {
	case Deflicker:
		cfg.Deflicker = true
		jw, err := truncateJoinWeight(v.GetFloat64(KeyWeight))
		if err != nil {
			return nil, err
		}
		cfg.JoinWeight = jw
	default:
		cfg.Background = true
		cfg.Deflicker = v.GetBool(KeyDeflicker)
		cfg.Weight = v.GetFloat64(KeyWeight)
		cfg.Threshold = v.GetInt(KeyThreshold)
		cfg.JoinWeight = v.GetInt(KeyJoinWeight)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// truncateJoinWeight accepts the deflicker tool's fractional --weight and
// drops the fraction, as the merge kernel takes an integer weight.
func truncateJoinWeight(w float64) (int, error) {
	if math.IsNaN(w) || w < 0 || w > math.MaxInt32 {
		return 0, fmt.Errorf("%w: weight %v must be in [0, %d]", ErrInvalidParameter, w, math.MaxInt32)
	}
	return int(w), nil
}

// Validate checks parameter ranges. It does not check device indexes; those
// are resolved against the available platforms when the session is acquired.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return ErrMissingInput
	}

	if c.Background {
		if math.IsNaN(c.Weight) || c.Weight <= 0 {
			return fmt.Errorf("%w: weight %v must be in (0, inf]", ErrInvalidParameter, c.Weight)
		}
		if c.Threshold < 1 || c.Threshold > 255 {
			return fmt.Errorf("%w: threshold %d must be in [1, 255]", ErrInvalidParameter, c.Threshold)
		}
	}
	if c.Deflicker && c.JoinWeight < 0 {
		return fmt.Errorf("%w: join weight %d must not be negative", ErrInvalidParameter, c.JoinWeight)
	}
	if len(c.Codec) != 4 {
		return fmt.Errorf("%w: codec %q is not a FOURCC", ErrInvalidParameter, c.Codec)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d must not be negative", ErrInvalidParameter, c.Workers)
	}
	return nil
}

// Preview reports whether results are shown in a window.
func (c *Config) Preview() bool { return !c.Silent }
