package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"f1telemetryhub/pkg/relay"
)

var relayFlags struct {
	server   string
	session  string
	identity string
	file     string
	rate     float64
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Stream a JSONL file of raw samples to a server",
	Long: `Stream a JSONL file of raw samples (any supported dialect) into a live
session, one line per sample. Lines with an "eventType" key are sent as session
events. Use "-" as file to read stdin.`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

func init() {
	f := relayCmd.Flags()
	f.StringVar(&relayFlags.server, "server", "http://localhost:8080", "server base url")
	f.StringVar(&relayFlags.session, "session", "", "session id to stream into")
	f.StringVar(&relayFlags.identity, "identity", "", "driver identity sent to the server")
	f.StringVar(&relayFlags.file, "file", "-", "JSONL input file")
	f.Float64Var(&relayFlags.rate, "rate", 60, "lines per second, 0 for no pacing")
	_ = relayCmd.MarkFlagRequired("session")
}

func runRelay(cmd *cobra.Command, args []string) error {
	_, lm, logger, err := setup()
	if err != nil {
		return err
	}
	defer lm.Close()

	var in io.Reader = cmd.InOrStdin()
	if relayFlags.file != "-" {
		f, err := os.Open(relayFlags.file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	ctx := cmd.Context()
	c, err := relay.Dial(ctx, relayFlags.server, relayFlags.session, relayFlags.identity, logger)
	if err != nil {
		return err
	}

	sum, streamErr := c.Stream(ctx, in, relayFlags.rate)
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.WaitReplies(waitCtx); err != nil {
		logger.Warn("not every frame was answered", "err", err)
	}
	sum.Acked, sum.Rejected = c.Acked(), c.Rejected()
	if err := c.Close(waitCtx); err != nil {
		logger.Debug("closing relay", "err", err)
	}
	logger.Info("relay finished", "sent", sum.Sent, "acked", sum.Acked, "rejected", sum.Rejected, "skipped", sum.Skipped)
	return streamErr
}
