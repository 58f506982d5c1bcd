// Package cascade derives a chain of finer-grained goals from a root goal and
// keeps that chain in step with the root as it is created, edited, moved and
// deleted.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/strata/internal/types"
)

// MaxCascadeLevel is the deepest cascade_level a chain can reach
// (yearly→monthly→weekly→daily).
const MaxCascadeLevel = 3

// maxChainLength is the number of items in the longest legal chain.
const maxChainLength = MaxCascadeLevel + 1

// Engine applies Resolve on every item mutation and performs the matching
// mutation on the derived child. It holds no per-chain state and does no
// locking; the ItemStore serializes concurrent mutations of one chain.
type Engine struct {
	now      func() time.Time
	location *time.Location
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock the reference year is read from.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone in which "the current year" is evaluated.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithLogger sets the logger for cascade steps.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine reading the wall clock in UTC.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:      time.Now,
		location: time.UTC,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Hooks = (*Engine)(nil)

// ReferenceYear returns the calendar year yearly offsets are relative to.
func (e *Engine) ReferenceYear() int {
	return e.now().In(e.location).Year()
}

// OnItemCreated cascades a newly created root item all the way down to its
// terminal timeframe. Cascaded items are produced by the engine itself and
// never start a cascade of their own.
func (e *Engine) OnItemCreated(ctx context.Context, s ItemStore, item *types.Item) error {
	if item.IsCascaded {
		return nil
	}
	if err := checkRoot(item); err != nil {
		return err
	}
	return e.cascade(ctx, s, item, e.ReferenceYear())
}

// OnItemUpdated keeps the chain below item in step with it. A moved item has
// its chain torn down and rebuilt from the new position; a content change is
// copied to every descendant. Positions of descendants are never recomputed
// for a content-only change.
func (e *Engine) OnItemUpdated(ctx context.Context, s ItemStore, item *types.Item, changed types.ChangedFields) error {
	if changed.Has(types.FieldPosition) {
		if item.IsCascaded {
			return fmt.Errorf("%w: cascaded item %s cannot be moved", ErrInvariantViolation, item.ID)
		}
		if err := e.deleteDescendants(ctx, s, item); err != nil {
			return err
		}
		e.logger.Debug("cascade retargeted",
			"component", "cascade",
			"action", "retarget",
			"item_id", item.ID,
			"timeframe", item.Timeframe,
		)
		return e.cascade(ctx, s, item, e.ReferenceYear())
	}
	if !changed.Content() {
		return nil
	}
	return e.propagateContent(ctx, s, item)
}

// OnItemDeleted removes every descendant of item, deepest first.
func (e *Engine) OnItemDeleted(ctx context.Context, s ItemStore, item *types.Item) error {
	return e.deleteDescendants(ctx, s, item)
}

// Chain returns item followed by its descendants, checking every link.
func (e *Engine) Chain(ctx context.Context, s ItemStore, item *types.Item) ([]types.Item, error) {
	chain := []types.Item{*item}
	parent := item
	for {
		child, err := s.FindChild(ctx, parent.ID)
		if err != nil {
			return nil, fmt.Errorf("find child of %s: %w", parent.ID, err)
		}
		if child == nil {
			return chain, nil
		}
		if err := checkLink(parent, child); err != nil {
			return nil, err
		}
		chain = append(chain, *child)
		if len(chain) > maxChainLength {
			return nil, fmt.Errorf("%w: chain below %s exceeds %d items", ErrInvariantViolation, item.ID, maxChainLength)
		}
		parent = child
	}
}

// Root follows parent links up from item to the user-authored item that
// started its chain.
func (e *Engine) Root(ctx context.Context, s ItemStore, item *types.Item) (*types.Item, error) {
	cur := item
	for steps := 0; cur.IsCascaded; steps++ {
		if steps >= MaxCascadeLevel || cur.ParentItemID == nil {
			return nil, fmt.Errorf("%w: cannot reach root from item %s", ErrInvariantViolation, item.ID)
		}
		parent, err := s.FindByID(ctx, *cur.ParentItemID)
		if err != nil {
			return nil, fmt.Errorf("find parent of %s: %w", cur.ID, err)
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: parent %s of item %s not found", ErrInvariantViolation, *cur.ParentItemID, cur.ID)
		}
		if err := checkLink(parent, cur); err != nil {
			return nil, err
		}
		cur = parent
	}
	return cur, nil
}

// Preview resolves the chain item would produce without touching a store.
// A weekly root has no parent month and resolves against the reference year.
func (e *Engine) Preview(item *types.Item) ([]types.ChainTarget, error) {
	refYear := e.ReferenceYear()
	var targets []types.ChainTarget

	cur := *item
	var parentMonth *int
	for level := item.CascadeLevel; ; level++ {
		rc := Context{ReferenceYear: refYear}
		if cur.Timeframe == types.TimeframeWeekly {
			rc.ParentMonthColIndex = parentMonth
		}
		target, err := Resolve(&cur, rc)
		if err != nil {
			return nil, err
		}
		if target.Terminal {
			return targets, nil
		}
		if level+1 > MaxCascadeLevel {
			return nil, fmt.Errorf("%w: preview exceeds cascade level %d", ErrInvariantViolation, MaxCascadeLevel)
		}
		targets = append(targets, types.ChainTarget{
			Timeframe:    target.Timeframe,
			PositionKey:  target.Key,
			CascadeLevel: level + 1,
		})

		parentMonth = nil
		if cur.Timeframe == types.TimeframeMonthly {
			parentMonth = cur.MonthColIndex
		}
		next := types.Item{Timeframe: target.Timeframe}
		next.SetPositionKey(target.Key)
		cur = next
	}
}

// cascade creates the child of parent and then recurses into it, one
// timeframe per call, until Resolve reports terminal.
func (e *Engine) cascade(ctx context.Context, s ItemStore, parent *types.Item, refYear int) error {
	rc, err := e.resolveContext(ctx, s, parent, refYear)
	if err != nil {
		return err
	}

	target, err := Resolve(parent, rc)
	if err != nil {
		return fmt.Errorf("resolve %s item %s: %w", parent.Timeframe, parent.ID, err)
	}
	if target.Terminal {
		return nil
	}

	if finer, ok := parent.Timeframe.Finer(); !ok || finer != target.Timeframe {
		return fmt.Errorf("%w: %s item %s resolved to %s", ErrInvariantViolation, parent.Timeframe, parent.ID, target.Timeframe)
	}
	if parent.CascadeLevel+1 > MaxCascadeLevel {
		return fmt.Errorf("%w: item %s already at cascade level %d", ErrInvariantViolation, parent.ID, parent.CascadeLevel)
	}

	parentID := parent.ID
	child := &types.Item{
		OrganizationID: parent.OrganizationID,
		Timeframe:      target.Timeframe,
		CategoryIndex:  parent.CategoryIndex,
		Text:           parent.Text,
		Status:         parent.Status,
		ParentItemID:   &parentID,
		IsCascaded:     true,
		CascadeLevel:   parent.CascadeLevel + 1,
	}
	child.SetPositionKey(target.Key)

	inserted, err := s.Insert(ctx, child)
	if err != nil {
		return fmt.Errorf("insert cascaded %s item under %s: %w", target.Timeframe, parent.ID, err)
	}

	e.logger.Debug("cascade step",
		"component", "cascade",
		"action", "create",
		"item_id", inserted.ID,
		"parent_item_id", parent.ID,
		"timeframe", inserted.Timeframe,
		"position_key", target.Key,
		"cascade_level", inserted.CascadeLevel,
	)

	return e.cascade(ctx, s, inserted, refYear)
}

// resolveContext builds the resolution context for parent. Weekly items take
// their ISO year from the monthly item above them.
func (e *Engine) resolveContext(ctx context.Context, s ItemStore, item *types.Item, refYear int) (Context, error) {
	rc := Context{ReferenceYear: refYear}
	if item.Timeframe != types.TimeframeWeekly || item.ParentItemID == nil {
		return rc, nil
	}

	parent, err := s.FindByID(ctx, *item.ParentItemID)
	if err != nil {
		return rc, fmt.Errorf("find parent of %s: %w", item.ID, err)
	}
	if parent == nil {
		return rc, fmt.Errorf("%w: parent %s of item %s not found", ErrInvariantViolation, *item.ParentItemID, item.ID)
	}
	if parent.Timeframe == types.TimeframeMonthly {
		rc.ParentMonthColIndex = parent.MonthColIndex
	}
	return rc, nil
}

// propagateContent copies text, status and category down the chain.
func (e *Engine) propagateContent(ctx context.Context, s ItemStore, item *types.Item) error {
	parent := item
	for depth := 1; ; depth++ {
		child, err := s.FindChild(ctx, parent.ID)
		if err != nil {
			return fmt.Errorf("find child of %s: %w", parent.ID, err)
		}
		if child == nil {
			return nil
		}
		if depth > MaxCascadeLevel {
			return fmt.Errorf("%w: chain below %s deeper than %d", ErrInvariantViolation, item.ID, MaxCascadeLevel)
		}
		if err := checkLink(parent, child); err != nil {
			return err
		}

		text, status, category := parent.Text, parent.Status, parent.CategoryIndex
		updated, err := s.Update(ctx, child.ID, types.ItemUpdate{
			Text:          &text,
			Status:        &status,
			CategoryIndex: &category,
		})
		if err != nil {
			return fmt.Errorf("update cascaded item %s: %w", child.ID, err)
		}

		e.logger.Debug("cascade step",
			"component", "cascade",
			"action", "update",
			"item_id", updated.ID,
			"parent_item_id", parent.ID,
			"timeframe", updated.Timeframe,
			"cascade_level", updated.CascadeLevel,
		)
		parent = updated
	}
}

// deleteDescendants walks the chain below item and deletes it from the leaf
// upward, so no item is ever left without its parent.
func (e *Engine) deleteDescendants(ctx context.Context, s ItemStore, item *types.Item) error {
	chain, err := e.Chain(ctx, s, item)
	if err != nil {
		return err
	}
	for i := len(chain) - 1; i >= 1; i-- {
		if err := s.Delete(ctx, chain[i].ID); err != nil {
			return fmt.Errorf("delete cascaded item %s: %w", chain[i].ID, err)
		}
		e.logger.Debug("cascade step",
			"component", "cascade",
			"action", "delete",
			"item_id", chain[i].ID,
			"timeframe", chain[i].Timeframe,
			"cascade_level", chain[i].CascadeLevel,
		)
	}
	return nil
}

func checkRoot(item *types.Item) error {
	if item.ParentItemID != nil || item.CascadeLevel != 0 {
		return fmt.Errorf("%w: root item %s has parent or non-zero cascade level", ErrInvariantViolation, item.ID)
	}
	return nil
}

// checkLink verifies child is a legal cascaded child of parent.
func checkLink(parent, child *types.Item) error {
	if !child.IsCascaded || child.ParentItemID == nil || *child.ParentItemID != parent.ID {
		return fmt.Errorf("%w: item %s is not a cascaded child of %s", ErrInvariantViolation, child.ID, parent.ID)
	}
	if finer, ok := parent.Timeframe.Finer(); !ok || child.Timeframe != finer {
		return fmt.Errorf("%w: %s item %s under %s item %s", ErrInvariantViolation, child.Timeframe, child.ID, parent.Timeframe, parent.ID)
	}
	if child.CascadeLevel != parent.CascadeLevel+1 || child.CascadeLevel > MaxCascadeLevel {
		return fmt.Errorf("%w: item %s has cascade level %d under level %d", ErrInvariantViolation, child.ID, child.CascadeLevel, parent.CascadeLevel)
	}
	return nil
}
