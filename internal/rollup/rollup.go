// Package rollup collapses the pending commands of a design into a new
// document snapshot.
package rollup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/collab-studio/internal/command"
	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/repository"
)

// Executor replays non-reverted commands on top of the latest snapshot.
type Executor struct {
	content  repository.ContentRepository
	designs  repository.DesignRepository
	commands command.Executor
	log      *zap.Logger
}

// New constructs an Executor. designs may be nil, which disables metadata
// derivation.
func New(content repository.ContentRepository, designs repository.DesignRepository, commands command.Executor, log *zap.Logger) *Executor {
	return &Executor{content: content, designs: designs, commands: commands, log: log}
}

// Rollup rolls up designID on behalf of the author of its latest command.
// A design without commands is left untouched.
func (e *Executor) Rollup(ctx context.Context, designID string) error {
	_, err := e.Run(ctx, designID)
	return err
}

// Run is Rollup returning the version of the new snapshot, 0 when nothing
// was pending.
func (e *Executor) Run(ctx context.Context, designID string) (int64, error) {
	last, err := e.content.LatestCommand(ctx, designID)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest command of %s: %w", designID, err)
	}
	return e.RollupAs(ctx, last.Author, designID)
}

// RollupAs appends a new snapshot authored by user when commands are pending
// after the latest one, and returns its version.
func (e *Executor) RollupAs(ctx context.Context, user, designID string) (int64, error) {
	doc, err := e.content.LatestDocument(ctx, designID)
	if err != nil {
		return 0, fmt.Errorf("latest document of %s: %w", designID, err)
	}
	entries, err := e.content.CommandsSince(ctx, designID, doc.Version)
	if err != nil {
		return 0, fmt.Errorf("commands of %s since %d: %w", designID, doc.Version, err)
	}

	bodies := make([]string, 0, len(entries))
	for _, c := range entries {
		if !c.Reverted {
			bodies = append(bodies, c.Data)
		}
	}
	if len(bodies) == 0 {
		return 0, nil
	}

	content, err := e.commands.Apply(doc.Data, bodies)
	if err != nil {
		return 0, fmt.Errorf("roll up %s: %w", designID, err)
	}
	version, err := e.content.Append(ctx, user, designID, model.ContentDocument, content)
	if err != nil {
		return 0, fmt.Errorf("append snapshot of %s: %w", designID, err)
	}
	e.log.Info("design rolled up",
		zap.String("design_id", designID),
		zap.Int64("from_version", doc.Version),
		zap.Int64("version", version),
		zap.Int("commands", len(bodies)))

	e.refreshMetadata(ctx, designID, content)
	return version, nil
}

func (e *Executor) refreshMetadata(ctx context.Context, designID, content string) {
	if e.designs == nil {
		return
	}
	derived, err := DeriveMetadata(content)
	if err != nil {
		e.log.Warn("metadata derivation failed", zap.String("design_id", designID), zap.Error(err))
		return
	}
	current, err := e.designs.GetMetadata(ctx, designID)
	if err != nil {
		e.log.Warn("metadata lookup failed", zap.String("design_id", designID), zap.Error(err))
		return
	}
	if current.Equal(derived) {
		return
	}
	if err := e.designs.UpdateMetadata(ctx, designID, derived); err != nil {
		e.log.Warn("metadata update failed", zap.String("design_id", designID), zap.Error(err))
	}
}
