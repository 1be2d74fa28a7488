package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/cache"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/constants"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/matchfilter"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

// matchChannel picks the narrowest channel for the requested scope. A type
// wins over a protocol; the other dimension is left to jq filters.
func matchChannel(protocol, matchType string) string {
	switch {
	case matchType != "":
		return constants.PubSubChannelMatchTypePrefix + matchType
	case protocol != "":
		return constants.PubSubChannelProtocolPrefix + protocol
	default:
		return constants.PubSubChannelMatches
	}
}

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Follow matches published by a running analyzer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "protocol",
				Usage: "Only follow matches of this protocol",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only follow one match type (timing_attack, amount_correlation, address_link)",
			},
			&cli.StringFlag{
				Name:  "pattern",
				Usage: "Subscribe to a channel pattern instead (e.g. matches:protocol:*)",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq expression a match must satisfy (repeatable, all must be true)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print matches as JSON lines",
			},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)

			exprs := c.StringSlice("jq")
			protocol := c.String("protocol")
			if c.String("type") != "" && protocol != "" {
				exprs = append(exprs, fmt.Sprintf(".protocol == %q", protocol))
			}
			filter, err := matchfilter.Compile(exprs...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := connectRedis(ctx, c)
			if err != nil {
				return err
			}
			defer client.Close()

			channel := matchChannel(protocol, c.String("type"))
			jsonOut := c.Bool("json")
			enc := json.NewEncoder(os.Stdout)
			seen := 0

			handle := func(channel string, m *models.Match) {
				ok, err := filter.Match(m)
				if err != nil {
					logger.WithError(err).Debug("jq filter error")
				}
				if !ok {
					return
				}
				seen++
				if jsonOut {
					_ = enc.Encode(m)
					return
				}
				logger.WithFields(logrus.Fields{
					"channel":       channel,
					"type":          m.Type,
					"protocol":      m.Protocol,
					"confidence":    m.Confidence,
					"anonymity_set": m.AnonymitySet,
					"signatures":    m.Signatures(),
				}).Info("match received")
			}

			pubsub := cache.NewPubSubManager(client, logger)
			if pattern := c.String("pattern"); pattern != "" {
				err = pubsub.PSubscribeMatches(ctx, pattern, handle)
			} else {
				err = pubsub.SubscribeMatches(ctx, channel, func(m *models.Match) {
					handle(channel, m)
				})
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			logger.WithField("matches", seen).Info("subscriber stopped")
			return nil
		},
	}
}
