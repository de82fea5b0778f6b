package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auraaudit/pkg/feed"
	"auraaudit/pkg/scoring"
	"auraaudit/pkg/validation"
	"auraaudit/shared/config"
	"auraaudit/shared/logging"
	"auraaudit/shared/types"
)

func newWatchCmd(root *rootFlags) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a user's live audit feed and print every update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.ValidateUserID(userID); err != nil {
				return exitError(2, "--user %q: %v", userID, err)
			}
			cfg, err := root.load()
			if err != nil {
				return exitError(2, "configuration: %v", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cfg, userID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User whose feed to follow")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

var errFeedStale = errors.New("live feed lost its transport")

func runWatch(ctx context.Context, cfg config.Config, userID string, out io.Writer) error {
	logger := logging.L()
	b := &backends{}
	if cfg.Redis.Addr != "" {
		client, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		b.redis = client
		b.closers = append(b.closers, client.Close)
	}
	defer b.Close(logger)
	if err := openStream(cfg, b); err != nil {
		return err
	}

	printer := newUpdatePrinter(out, logger)
	stale := make(chan error, 1)
	agg := feed.New(b.source, feed.TopicForUser(userID), feed.WithLogger(logger))
	err := agg.Start(ctx, feed.Handlers{
		OnUpdate: printer.print,
		OnDiagnostic: func(err error) {
			logger.Warn("discarded feed message", zap.Error(err))
		},
		OnTransportError: func(err error) { stale <- err },
	})
	if err != nil {
		return err
	}
	defer func() { <-agg.Stop() }()
	logger.Info("watching live feed", zap.String("topic", agg.Topic()))

	select {
	case <-ctx.Done():
		return nil
	case err := <-stale:
		return fmt.Errorf("%w: %v", errFeedStale, err)
	case err := <-printer.failed:
		return fmt.Errorf("write update: %w", err)
	}
}

// updatePrinter writes one JSON line per update. The first write error is logged
// and reported on failed; later updates are dropped.
type updatePrinter struct {
	enc    *json.Encoder
	logger *zap.Logger
	failed chan error
	broken bool
}

func newUpdatePrinter(out io.Writer, logger *zap.Logger) *updatePrinter {
	return &updatePrinter{enc: json.NewEncoder(out), logger: logger, failed: make(chan error, 1)}
}

type watchLine struct {
	Finding types.AuditFinding `json:"finding"`
	Counts  scoring.Counts     `json:"counts"`
	Score   scoring.Score      `json:"score"`
}

func (p *updatePrinter) print(u feed.Update) {
	if p.broken || len(u.Findings) == 0 {
		return
	}
	line := watchLine{Finding: u.Findings[len(u.Findings)-1], Counts: u.Counts, Score: u.Score}
	if err := p.enc.Encode(line); err != nil {
		p.broken = true
		p.logger.Warn("watch output write failed", zap.String("finding_id", line.Finding.ID), zap.Error(err))
		p.failed <- err
	}
}
