package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/protoip/client"
	"github.com/luma/protoip/internal/env"
)

var (
	// The server to connect to
	serverAddr string

	// A file to send instead of text
	sendFile string

	// Wait for the server to answer the message
	waitReply bool
)

func init() {
	for _, c := range []*cobra.Command{SendCmd, PingCmd} {
		c.PersistentFlags().StringVarP(&serverAddr, "addr", "s", "127.0.0.1:7363", "The server to connect to")
	}

	flags := SendCmd.PersistentFlags()
	flags.StringVarP(&sendFile, "file", "f", "", "Send the file at this path")
	flags.BoolVarP(&waitReply, "wait", "w", false, "Wait for a reply and print it")
}

var SendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send a message or a file to a protoip server",
	Long: `Send a message or a file to a protoip server

Usage
	protoip send --addr 127.0.0.1:7363 --wait hello world
	protoip send --file ./report.pdf

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendFile == "" && len(args) == 0 {
			return errors.New("nothing to send, pass a message or --file")
		}

		if sendFile != "" && len(args) > 0 {
			return errors.New("pass either a message or --file, not both")
		}

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

		if sendFile != "" {
			if err := conn.SendFile(sendFile); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", sendFile)
			return nil
		}

		if err := conn.SendString(strings.Join(args, " ")); err != nil {
			return err
		}

		if !waitReply {
			return nil
		}

		if err := conn.Receive(); err != nil {
			return err
		}

		reply, err := conn.DataAsText()
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func dial(ctx context.Context, conf *env.Config, log *zap.Logger) (*client.Conn, error) {
	conn := client.New(client.Options{
		ConnectTimeout: conf.ConnectTimeout,
		Stream:         conf.StreamOptions(log.Named("stream")),
		Log:            log.Named("client"),
	})

	if err := conn.Connect(ctx, serverAddr); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", serverAddr, err)
	}

	return conn, nil
}
