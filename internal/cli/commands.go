// Package cli builds the cobra commands of the backgen and deflicker tools.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"backplate/internal/config"
)

// Execute runs cmd and exits non-zero on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewBackgenCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "backgen",
		Short: "Estimate a static background plate from a video",
		Long: `backgen builds a static background image from a video. Every frame moves
the running estimate toward itself wherever it differs by more than the
threshold, so moving objects fade out of the plate.

With --deflicker each frame is first histogram-matched against a slowly
adapting reference distribution, which keeps exposure flicker out of the
estimate.`,
		Example: `  # Write the plate of a clip without opening a window
  backgen --input clip.mp4 --output plate.png --silent

  # Watch the estimate next to the input, with deflicker
  backgen --input clip.mp4 --sidebyside --deflicker

  # Freeze the plate at the first frame
  backgen --input clip.mp4 --weight inf --output first.png --silent`,
	}

	flags := cmd.Flags()
	addSharedFlags(cmd)
	flags.Float64(config.KeyWeight, config.DefaultWeight, "weight a new frame is merged with, per second of video (0;inf]")
	flags.Int(config.KeyThreshold, config.DefaultThreshold, "difference above which a sample counts as changed [1;255]")
	flags.Int(config.KeyJoinWeight, config.DefaultJoinWeight, "weight of the reference histogram when merging a frame into it")
	flags.Bool(config.KeyDeflicker, false, "deflicker frames before updating the background")

	bind(cmd, v, config.Backgen)
	return cmd
}

func NewDeflickerCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "deflicker",
		Short: "Remove exposure flicker from a video",
		Long: `deflicker remaps every frame so that its per-channel histogram matches a
reference distribution that adapts slowly over the clip. Sudden brightness
changes are pulled back while gradual ones are followed.`,
		Example: `  # Write the deflickered clip
  deflicker --input timelapse.mp4 --vidoutput steady.mp4 --silent

  # Follow changes faster
  deflicker --input timelapse.mp4 --weight 5 --sidebyside`,
	}

	addSharedFlags(cmd)
	cmd.Flags().Float64(config.KeyWeight, config.DefaultDeflickerJoinWeight, "weight of the reference histogram when merging a frame into it (fraction is dropped)")

	bind(cmd, v, config.Deflicker)
	return cmd
}

func addSharedFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String(config.KeyConfig, "", "config file (yaml, toml or json)")
	flags.String(config.KeyInput, "", "path to a video or an image sequence pattern")
	flags.String(config.KeyOutput, "", "save the final result to this image path")
	flags.String(config.KeyVideoOutput, "", "write every result to this video path")
	flags.Bool(config.KeySilent, false, "do not show preview windows")
	flags.Bool(config.KeySideBySide, false, "show the result next to the input frame")
	flags.Int(config.KeyPlatform, 0, "compute platform index")
	flags.Int(config.KeyDevice, 0, "compute device index")
	flags.Int(config.KeyWorkers, 0, "worker goroutines of the host device (0 = GOMAXPROCS)")
	flags.String(config.KeyCodec, config.DefaultCodec, "FOURCC of the video output")
	flags.String(config.KeyLogLevel, config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.Bool(config.KeyLogPretty, false, "human-readable log output instead of JSON")
}

func bind(cmd *cobra.Command, v *viper.Viper, tool config.Tool) {
	config.SetDefaults(v, tool)
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		panic(fmt.Sprintf("bind flags of %s: %v", cmd.Name(), err))
	}

	cmd.SilenceErrors = true
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, tool)
		if err != nil {
			if errors.Is(err, config.ErrMissingInput) {
				return fmt.Errorf("%w: --input is required", err)
			}
			return err
		}
		cmd.SilenceUsage = true
		return run(cmd.Context(), cfg, cmd.ErrOrStderr())
	}
}
