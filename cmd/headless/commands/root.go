package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/headless"
)

var cfgFile string

// rootCmd renders both images on one device.
var rootCmd = &cobra.Command{
	Use:   "headless",
	Short: "Render images with GPU compute and draw submissions",
	Long: `headless opens a GPU device once, renders a Mandelbrot set with a
compute dispatch and a triangle with a draw call on the same queue, and
writes both images to disk.

Every setting can also come from a config file or from HEADLESS_*
environment variables, e.g. HEADLESS_BACKEND=software.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAll,
}

// Execute runs the root command and prints the error it fails with.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./headless.yaml if present)")
	flags.String("backend", "auto", "driver backend: native, software or auto")
	flags.Bool("validation", false, "enable the validation layer")
	flags.StringSlice("extension", nil, "device extension the adapter must advertise (repeatable)")
	flags.Bool("dedicated-queues", false, "use dedicated compute and transfer queues when available")
	flags.Duration("timeout", 0, "fence wait timeout per operation (0 waits indefinitely)")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")

	for _, name := range []string{"backend", "validation", "extension", "dedicated-queues", "timeout", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.Flags().Int("size", 1024, "width and height of both images")
	rootCmd.Flags().String("mandelbrot-output", "image2.png", "Mandelbrot output file")
	rootCmd.Flags().String("triangle-output", "triangle.png", "triangle output file")
}

// initConfig reads the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("headless")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HEADLESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config:", err)
		}
	}
}

// setupLogging installs a text logger at the configured level.
func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	headless.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// openContext initializes the device with the configured options.
func openContext(caps headless.Capability) (*headless.Context, error) {
	if err := setupLogging(); err != nil {
		return nil, err
	}
	opts := []headless.Option{
		headless.WithBackend(viper.GetString("backend")),
		headless.WithValidation(viper.GetBool("validation")),
		headless.WithExtensions(viper.GetStringSlice("extension")...),
		headless.WithWaitTimeout(viper.GetDuration("timeout")),
	}
	if viper.GetBool("dedicated-queues") {
		opts = append(opts, headless.WithDedicatedQueues())
	}
	return headless.Initialize(caps, opts...)
}

func runAll(cmd *cobra.Command, _ []string) error {
	size, _ := cmd.Flags().GetInt("size")
	mandelbrotOut, _ := cmd.Flags().GetString("mandelbrot-output")
	triangleOut, _ := cmd.Flags().GetString("triangle-output")

	dc, err := openContext(headless.CapGraphics | headless.CapCompute | headless.CapTransfer)
	if err != nil {
		return err
	}
	defer dc.Close()

	ctx := commandContext(cmd)
	if err := renderMandelbrot(ctx, cmd, dc, size, mandelbrotOut); err != nil {
		return err
	}
	return renderTriangle(ctx, cmd, dc, size, triangleOut)
}
