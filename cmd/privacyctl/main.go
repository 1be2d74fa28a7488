// ============================================================================
// cmd/privacyctl/main.go - Operator CLI (match subscriber, replay, flags)
// ============================================================================
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "privacyctl",
		Usage:   "Operate the realtime privacy analyzer",
		Version: version,
		Commands: []*cli.Command{
			subscribeCommand(),
			replayCommand(),
			flagsCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis",
				Value:   "localhost:6379",
				Usage:   "Redis address",
				EnvVars: []string{"REDIS_ADDR"},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Value:   0,
				Usage:   "Redis database",
				EnvVars: []string{"REDIS_DB"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if c.Bool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func connectRedis(ctx context.Context, c *cli.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: c.String("redis"),
		DB:   c.Int("redis-db"),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
