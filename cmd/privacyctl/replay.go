package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/cache"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Publish raw transactions (one JSON object per line) on raw:<protocol>",
		ArgsUsage: "[FILE]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "protocol",
				Value: parser.ProtocolPrivacyCash,
				Usage: "Protocol id the transactions belong to",
			},
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "Pause between transactions",
			},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)

			var in io.Reader = os.Stdin
			if path := c.Args().First(); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			ctx := context.Background()
			client, err := connectRedis(ctx, c)
			if err != nil {
				return err
			}
			defer client.Close()

			pubsub := cache.NewPubSubManager(client, logger)
			protocol := c.String("protocol")
			delay := c.Duration("delay")

			sent, skipped, err := replay(in, func(tx parser.RawTransaction) error {
				if err := pubsub.PublishRaw(ctx, protocol, tx); err != nil {
					return err
				}
				if delay > 0 {
					time.Sleep(delay)
				}
				return nil
			}, logger)
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"protocol": protocol,
				"sent":     sent,
				"skipped":  skipped,
			}).Info("replay finished")
			return nil
		},
	}
}

// replay decodes JSON lines and hands each transaction to publish. Blank
// and malformed lines are skipped; a publish error stops the replay.
func replay(in io.Reader, publish func(parser.RawTransaction) error, logger *logrus.Logger) (sent, skipped int, err error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var tx parser.RawTransaction
		if err := json.Unmarshal(scanner.Bytes(), &tx); err != nil {
			logger.WithError(err).WithField("line", line).Warn("skipping malformed line")
			skipped++
			continue
		}
		if err := publish(tx); err != nil {
			return sent, skipped, fmt.Errorf("publish line %d: %w", line, err)
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		return sent, skipped, fmt.Errorf("failed to read input: %w", err)
	}
	return sent, skipped, nil
}
