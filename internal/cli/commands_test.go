package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backplate/internal/config"
	"backplate/internal/video"
)

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMissingInputPrintsUsage(t *testing.T) {
	out, err := execute(NewBackgenCommand(), "--silent")
	assert.ErrorIs(t, err, config.ErrMissingInput)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "--join-weight")
}

func TestInvalidParameterIsRejected(t *testing.T) {
	_, err := execute(NewBackgenCommand(), "--input", "x.mp4", "--threshold", "0", "--silent")
	assert.ErrorIs(t, err, config.ErrInvalidParameter)

	_, err = execute(NewDeflickerCommand(), "--input", "x.mp4", "--weight", "-3", "--silent")
	assert.ErrorIs(t, err, config.ErrInvalidParameter)
}

func TestUnreadableInputIsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mp4")
	_, err := execute(NewDeflickerCommand(), "--input", path, "--silent", "--log-level", "error")
	assert.ErrorIs(t, err, video.ErrMalformedInput)
}

func TestDeflickerWeightFlagAcceptsFractions(t *testing.T) {
	cmd := NewDeflickerCommand()
	f := cmd.Flags().Lookup(config.KeyWeight)
	require.NotNil(t, f)
	assert.Equal(t, "float64", f.Value.Type())
	assert.Equal(t, "20", f.DefValue)

	// a fractional weight gets past flag parsing and validation
	path := filepath.Join(t.TempDir(), "missing.mp4")
	_, err := execute(NewDeflickerCommand(), "--input", path, "--weight", "20.5", "--silent", "--log-level", "error")
	assert.ErrorIs(t, err, video.ErrMalformedInput)

	_, err = execute(NewDeflickerCommand(), "--input", path, "--weight", "-0.5", "--silent")
	assert.ErrorIs(t, err, config.ErrInvalidParameter)

	b := NewBackgenCommand().Flags().Lookup(config.KeyWeight)
	require.NotNil(t, b)
	assert.Equal(t, "float64", b.Value.Type())
}
