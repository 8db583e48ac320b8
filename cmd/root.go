package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/protoip/cmd/gen"
	"github.com/luma/protoip/internal/env"
)

// The TOML config file, see env.LoadConfig
var configPath string

var RootCmd = &cobra.Command{
	Use:   "protoip",
	Short: "Reliable message and file transfer over fixed size frames",
	Long: `protoip moves messages and files between two peers using fixed size
1024 byte frames, a start/end of transmission handshake and selective
retransmission of lost frames.`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(SendCmd)
	RootCmd.AddCommand(PingCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func loadEnv(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx, configPath)
	if err != nil {
		return nil, nil, err
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}
