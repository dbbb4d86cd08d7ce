// Command imstool inspects Imaris files and converts, projects and
// transforms them through out-of-core buffers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/robert-malhotra/go-imaris/buffer"
	"github.com/robert-malhotra/go-imaris/ims"
	"github.com/robert-malhotra/go-imaris/internal/config"
	"github.com/robert-malhotra/go-imaris/internal/logger"
)

// Global scope flags and the state derived from them.
var (
	cfgFile string
	verbose bool

	v    *viper.Viper
	cfg  *config.Config
	zlog = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "imstool",
	Short: "Inspect, convert and transform Imaris volumes",
	Long: `imstool reads Imaris (.ims) and ImageJ TIFF volumes lazily and writes
results through chunked out-of-core buffers, so volumes larger than memory
can be exported, projected and resampled.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	v = config.NewViper()
	rootCmd.SetOut(os.Stdout)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/imstool/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	pf.String("buffer-root", "", "out-of-core buffer directory (default is $HOME/.go-imaris/buffers)")
	pf.String("log-file", "", "write logs to a rotating file")
	_ = v.BindPFlag("buffer.root", pf.Lookup("buffer-root"))
	_ = v.BindPFlag("logger.file", pf.Lookup("log-file"))

	rootCmd.AddCommand(
		infoCmd,
		treeCmd,
		exportCmd,
		transformCmd,
		buffersCmd,
		synthCmd,
		configCmd,
	)
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	if cfg, err = config.Load(v, cfgFile); err != nil {
		return err
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	if zlog, err = logger.New(cfg.Logger); err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		zlog.Debug("configuration loaded", zap.String("file", used))
	}
	return nil
}

func readerOptions() []ims.Option {
	return []ims.Option{
		ims.WithLogger(zlog),
		ims.WithChunkCache(cfg.Reader.ChunkCache),
		ims.WithOpenDatasets(cfg.Reader.OpenDatasets),
	}
}

func newBufferContext() (*buffer.Context, error) {
	return buffer.NewContext(cfg.Buffer.Root,
		buffer.WithLogger(zlog),
		buffer.WithCodec(cfg.Buffer.Codec),
		buffer.WithChunkCache(cfg.Buffer.CacheChunks),
		buffer.WithWorkers(cfg.Buffer.Workers))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = zlog.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
