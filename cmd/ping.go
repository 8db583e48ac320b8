package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pingCount   int
	pingTimeout time.Duration
)

func init() {
	flags := PingCmd.PersistentFlags()
	flags.IntVarP(&pingCount, "count", "n", 1, "Number of pings to send")
	flags.DurationVar(&pingTimeout, "timeout", 5*time.Second, "How long to wait for each PONG")
}

var PingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure the round trip time to a protoip server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		conf, log, err := loadEnv(ctx)
		if err != nil {
			return err
		}
		defer log.Sync() // nolint:errcheck

		conn, err := dial(ctx, conf, log)
		if err != nil {
			return err
		}

		defer func() {
			if err := conn.Disconnect(); err != nil {
				log.Warn("Failed to disconnect cleanly", zap.Error(err))
			}
		}()

		for i := 0; i < pingCount; i++ {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			rtt, err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pong from %s: seq=%d time=%s\n", serverAddr, i, rtt)
		}

		return nil
	},
}
