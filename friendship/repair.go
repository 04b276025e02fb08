package friendship

import (
	"context"
	"fmt"

	"github.com/kasuganosora/socialgraph/model"
	"go.uber.org/zap"
)

// ReconcileResult reports what Reconcile changed for one pair.
type ReconcileResult struct {
	UserID            int64 `json:"user_id"`
	FriendID          int64 `json:"friend_id"`
	Friends           bool  `json:"friends"`
	ProjectionAdded   int64 `json:"projection_added"`
	ProjectionRemoved int64 `json:"projection_removed"`
	EdgesPurged       int   `json:"edges_purged"`
}

// Changed reports whether anything was written.
func (r *ReconcileResult) Changed() bool {
	return r.ProjectionAdded > 0 || r.ProjectionRemoved > 0 || r.EdgesPurged > 0
}

// DriftReport lists the places where the projection or the edges disagree
// with the friendship invariants.
type DriftReport struct {
	HalfAccepted      []model.Friendship `json:"half_accepted"`
	StaleProjection   []model.UserFriend `json:"stale_projection"`
	MissingProjection []model.UserFriend `json:"missing_projection"`
}

// Clean reports whether no drift was found.
func (r *DriftReport) Clean() bool {
	return len(r.HalfAccepted) == 0 && len(r.StaleProjection) == 0 && len(r.MissingProjection) == 0
}

// Repairer restores consistency between edges and the projection. The
// edges are authoritative: two ACCEPTED edges make a friendship, anything
// else does not.
type Repairer struct {
	store  *Store
	logger *zap.Logger
}

// NewRepairer creates a Repairer.
func NewRepairer(store *Store, logger *zap.Logger) *Repairer {
	return &Repairer{store: store, logger: logger}
}

// Reconcile brings the pair (a, b) back in line with its edges. A lone
// ACCEPTED edge is deleted since the friendship it describes never
// completed. Running it twice changes nothing the second time.
func (r *Repairer) Reconcile(ctx context.Context, a, b int64) (*ReconcileResult, error) {
	if a == b {
		return nil, fmt.Errorf("%w: user %d", ErrSelfReference, a)
	}
	res := &ReconcileResult{UserID: a, FriendID: b}
	err := r.store.Transaction(ctx, func(tx *Store) error {
		forward, err := tx.FindPairForUpdate(ctx, a, b)
		if err != nil {
			return err
		}
		reverse, err := tx.FindPairForUpdate(ctx, b, a)
		if err != nil {
			return err
		}

		if isAccepted(forward) && isAccepted(reverse) {
			res.Friends = true
			res.ProjectionAdded, err = tx.LinkProjection(ctx, a, b)
			return err
		}
		if res.ProjectionRemoved, err = tx.UnlinkProjection(ctx, a, b); err != nil {
			return err
		}
		for _, edge := range []*model.Friendship{forward, reverse} {
			if isAccepted(edge) {
				if err := tx.Delete(ctx, edge); err != nil {
					return err
				}
				res.EdgesPurged++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Changed() {
		r.logger.Info("friendship reconciled",
			zap.Int64("user_id", a),
			zap.Int64("friend_id", b),
			zap.Bool("friends", res.Friends),
			zap.Int64("projection_added", res.ProjectionAdded),
			zap.Int64("projection_removed", res.ProjectionRemoved),
			zap.Int("edges_purged", res.EdgesPurged))
	}
	return res, nil
}

// ReconcileUser reconciles every pair userID takes part in and returns the
// pairs that changed.
func (r *Repairer) ReconcileUser(ctx context.Context, userID int64) ([]ReconcileResult, error) {
	ids, err := r.store.CounterpartIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	changed := []ReconcileResult{}
	for _, id := range ids {
		if id == userID {
			continue
		}
		res, err := r.Reconcile(ctx, userID, id)
		if err != nil {
			return changed, err
		}
		if res.Changed() {
			changed = append(changed, *res)
		}
	}
	return changed, nil
}

// ReconcileAll reconciles every pair named in the drift report and returns
// the pairs that changed.
func (r *Repairer) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	report, err := r.Audit(ctx)
	if err != nil {
		return nil, err
	}
	type pair struct{ a, b int64 }
	seen := map[pair]bool{}
	var pairs []pair
	add := func(a, b int64) {
		if a > b {
			a, b = b, a
		}
		p := pair{a, b}
		if !seen[p] && a != b {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	for _, f := range report.HalfAccepted {
		add(f.UserID, f.FriendID)
	}
	for _, uf := range report.StaleProjection {
		add(uf.UserID, uf.FriendID)
	}
	for _, uf := range report.MissingProjection {
		add(uf.UserID, uf.FriendID)
	}

	changed := []ReconcileResult{}
	for _, p := range pairs {
		res, err := r.Reconcile(ctx, p.a, p.b)
		if err != nil {
			return changed, err
		}
		if res.Changed() {
			changed = append(changed, *res)
		}
	}
	return changed, nil
}

// Audit scans for drift without changing anything.
func (r *Repairer) Audit(ctx context.Context) (*DriftReport, error) {
	half, err := r.store.HalfAcceptedEdges(ctx)
	if err != nil {
		return nil, err
	}
	stale, err := r.store.StaleProjectionRows(ctx)
	if err != nil {
		return nil, err
	}
	missing, err := r.store.MissingProjectionRows(ctx)
	if err != nil {
		return nil, err
	}
	return &DriftReport{HalfAccepted: half, StaleProjection: stale, MissingProjection: missing}, nil
}

// LogDrift runs Audit and logs a summary. It is meant for a periodic
// scheduler task and never writes to the store.
func (r *Repairer) LogDrift(ctx context.Context) {
	report, err := r.Audit(ctx)
	if err != nil {
		r.logger.Error("drift audit failed", zap.Error(err))
		return
	}
	if report.Clean() {
		r.logger.Debug("drift audit clean")
		return
	}
	r.logger.Warn("friendship drift detected",
		zap.Int("half_accepted", len(report.HalfAccepted)),
		zap.Int("stale_projection", len(report.StaleProjection)),
		zap.Int("missing_projection", len(report.MissingProjection)))
}
