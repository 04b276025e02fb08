// Package friendship manages the friendship graph between users: requests,
// acceptance, removal, blocking, and the read models derived from it.
//
// Every mutation runs in one database transaction over the directed edges
// and the user_friends projection. Notifications are handed to a
// notify.Notifier only after the transaction has committed.
package friendship

import (
	"context"
	"fmt"
	"math"

	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/notify"
	"go.uber.org/zap"
)

// Status is the relationship between two users as seen by one of them.
type Status string

const (
	StatusNone = Status("NONE")
	// ReceivedSuffix marks a status that comes from the other user's edge.
	ReceivedSuffix = "_RECEIVED"
)

// SendOutcome describes what a friend request turned into.
type SendOutcome string

const (
	OutcomeRequested SendOutcome = "requested" // new PENDING edge
	OutcomeReopened  SendOutcome = "reopened"  // REJECTED edge back to PENDING
	OutcomeAccepted  SendOutcome = "accepted"  // matched a request from the target
)

// SendResult is the result of SendFriendRequest. Edge is the requester's
// own edge to the target.
type SendResult struct {
	Edge    *model.Friendship `json:"friendship"`
	Outcome SendOutcome       `json:"outcome"`
}

// Options tunes the Engine.
type Options struct {
	SuggestionPageSize    int
	SuggestionMaxPageSize int
}

// Engine performs friendship state transitions.
type Engine struct {
	store    *Store
	dir      Directory
	notifier notify.Notifier
	logger   *zap.Logger
	opts     Options
}

// NewEngine creates an Engine. A nil notifier discards notifications.
func NewEngine(store *Store, dir Directory, notifier notify.Notifier, logger *zap.Logger, opts Options) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.SuggestionPageSize <= 0 {
		opts.SuggestionPageSize = 20
	}
	if opts.SuggestionMaxPageSize < opts.SuggestionPageSize {
		opts.SuggestionMaxPageSize = max(100, opts.SuggestionPageSize)
	}
	return &Engine{store: store, dir: dir, notifier: notifier, logger: logger, opts: opts}
}

// requireUsers fails with ErrNotFound unless every id resolves.
func (e *Engine) requireUsers(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if _, err := e.dir.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SendFriendRequest asks targetID to become requesterID's friend.
//
// A pending or accepted edge from the target collapses the request into an
// acceptance, so two users who ask each other end up friends. A REJECTED
// edge from the requester is reopened. Blocks in either direction fail with
// ErrBlocked.
func (e *Engine) SendFriendRequest(ctx context.Context, requesterID, targetID int64) (*SendResult, error) {
	if requesterID == targetID {
		return nil, fmt.Errorf("%w: user %d", ErrSelfReference, requesterID)
	}
	if err := e.requireUsers(ctx, requesterID, targetID); err != nil {
		return nil, err
	}

	var (
		res SendResult
		ev  notify.Event
	)
	err := e.store.Transaction(ctx, func(tx *Store) error {
		forward, err := tx.FindPairForUpdate(ctx, requesterID, targetID)
		if err != nil {
			return err
		}
		reverse, err := tx.FindPairForUpdate(ctx, targetID, requesterID)
		if err != nil {
			return err
		}
		action, err := decideSend(forward, reverse)
		if err != nil {
			return err
		}

		if action == sendCollapse {
			if forward, err = acceptPair(ctx, tx, reverse, forward); err != nil {
				return err
			}
			res = SendResult{Edge: forward, Outcome: OutcomeAccepted}
			ev = notify.FriendAccepted(requesterID, targetID, reverse.ID)
			return nil
		}

		mutual, err := tx.CountMutualFriends(ctx, requesterID, targetID)
		if err != nil {
			return err
		}
		if action == sendCreate {
			forward = &model.Friendship{UserID: requesterID, FriendID: targetID}
			res.Outcome = OutcomeRequested
		} else {
			res.Outcome = OutcomeReopened
		}
		forward.Status = model.FriendshipPending
		forward.MutualFriendsCount = mutual
		if err := tx.Upsert(ctx, forward); err != nil {
			return err
		}
		res.Edge = forward
		ev = notify.FriendRequestSent(requesterID, targetID, forward.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("friend request sent",
		zap.Int64("user_id", requesterID),
		zap.Int64("target_id", targetID),
		zap.Int64("friendship_id", res.Edge.ID),
		zap.String("outcome", string(res.Outcome)))
	e.notifier.Notify(ev)
	return &res, nil
}

// acceptPair marks edge and its reverse ACCEPTED, creating the reverse when
// it is nil, and links the pair in the projection. It returns the reverse.
func acceptPair(ctx context.Context, tx *Store, edge, reverse *model.Friendship) (*model.Friendship, error) {
	mutual, err := tx.CountMutualFriends(ctx, edge.UserID, edge.FriendID)
	if err != nil {
		return nil, err
	}
	edge.Status = model.FriendshipAccepted
	edge.MutualFriendsCount = mutual
	if err := tx.Update(ctx, edge); err != nil {
		return nil, err
	}
	if reverse == nil {
		reverse = &model.Friendship{UserID: edge.FriendID, FriendID: edge.UserID}
	}
	reverse.Status = model.FriendshipAccepted
	reverse.MutualFriendsCount = mutual
	if err := tx.Upsert(ctx, reverse); err != nil {
		return nil, err
	}
	if _, err := tx.LinkProjection(ctx, edge.UserID, edge.FriendID); err != nil {
		return nil, err
	}
	return reverse, nil
}

// AcceptFriendRequest accepts the pending request friendshipID on behalf of
// its receiver accepterID and returns the accepted edge.
func (e *Engine) AcceptFriendRequest(ctx context.Context, friendshipID, accepterID int64) (*model.Friendship, error) {
	var edge *model.Friendship
	err := e.store.Transaction(ctx, func(tx *Store) error {
		var err error
		edge, err = tx.FindByIDForUpdate(ctx, friendshipID)
		if err != nil {
			return err
		}
		if edge == nil {
			return fmt.Errorf("%w: friendship %d", ErrNotFound, friendshipID)
		}
		if err := checkReceiver(edge, accepterID); err != nil {
			return err
		}
		reverse, err := tx.FindPairForUpdate(ctx, edge.FriendID, edge.UserID)
		if err != nil {
			return err
		}
		if isBlocked(reverse) {
			return fmt.Errorf("%w: user %d has blocked user %d", ErrBlocked, reverse.UserID, reverse.FriendID)
		}
		_, err = acceptPair(ctx, tx, edge, reverse)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("friend request accepted",
		zap.Int64("friendship_id", edge.ID),
		zap.Int64("user_id", accepterID),
		zap.Int64("requester_id", edge.UserID))
	e.notifier.Notify(notify.FriendAccepted(accepterID, edge.UserID, edge.ID))
	return edge, nil
}

// RejectFriendRequest rejects the pending request friendshipID on behalf of
// its receiver. The sender is not notified.
func (e *Engine) RejectFriendRequest(ctx context.Context, friendshipID, rejecterID int64) (*model.Friendship, error) {
	var edge *model.Friendship
	err := e.store.Transaction(ctx, func(tx *Store) error {
		var err error
		edge, err = tx.FindByIDForUpdate(ctx, friendshipID)
		if err != nil {
			return err
		}
		if edge == nil {
			return fmt.Errorf("%w: friendship %d", ErrNotFound, friendshipID)
		}
		if err := checkReceiver(edge, rejecterID); err != nil {
			return err
		}
		edge.Status = model.FriendshipRejected
		return tx.Update(ctx, edge)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("friend request rejected",
		zap.Int64("friendship_id", edge.ID),
		zap.Int64("user_id", rejecterID))
	return edge, nil
}

// CancelFriendRequest withdraws the pending request friendshipID on behalf
// of its sender. The edge is deleted.
func (e *Engine) CancelFriendRequest(ctx context.Context, friendshipID, senderID int64) error {
	err := e.store.Transaction(ctx, func(tx *Store) error {
		edge, err := tx.FindByIDForUpdate(ctx, friendshipID)
		if err != nil {
			return err
		}
		if edge == nil {
			return fmt.Errorf("%w: friendship %d", ErrNotFound, friendshipID)
		}
		if err := checkSender(edge, senderID); err != nil {
			return err
		}
		return tx.Delete(ctx, edge)
	})
	if err != nil {
		return err
	}
	e.logger.Info("friend request cancelled",
		zap.Int64("friendship_id", friendshipID),
		zap.Int64("user_id", senderID))
	return nil
}

// RemoveFriend ends the friendship between userID and friendID. Both edges
// and both projection rows are deleted.
func (e *Engine) RemoveFriend(ctx context.Context, userID, friendID int64) error {
	if userID == friendID {
		return fmt.Errorf("%w: user %d", ErrSelfReference, userID)
	}
	err := e.store.Transaction(ctx, func(tx *Store) error {
		forward, err := tx.FindPairForUpdate(ctx, userID, friendID)
		if err != nil {
			return err
		}
		reverse, err := tx.FindPairForUpdate(ctx, friendID, userID)
		if err != nil {
			return err
		}
		if !isAccepted(forward) && !isAccepted(reverse) {
			return fmt.Errorf("%w: users %d and %d", ErrNotFriends, userID, friendID)
		}
		if _, err := tx.DeletePair(ctx, userID, friendID); err != nil {
			return err
		}
		_, err = tx.UnlinkProjection(ctx, userID, friendID)
		return err
	})
	if err != nil {
		return err
	}
	e.logger.Info("friend removed",
		zap.Int64("user_id", userID),
		zap.Int64("friend_id", friendID))
	return nil
}

// BlockUser makes blockerID block blockedID. Any friendship between them
// ends and any edge from blockedID is discarded, except a block of its own:
// blocks are unilateral and two users may block each other. Blocking is
// silent and idempotent.
func (e *Engine) BlockUser(ctx context.Context, blockerID, blockedID int64) (*model.Friendship, error) {
	if blockerID == blockedID {
		return nil, fmt.Errorf("%w: user %d", ErrSelfReference, blockerID)
	}
	if err := e.requireUsers(ctx, blockerID, blockedID); err != nil {
		return nil, err
	}

	var edge *model.Friendship
	err := e.store.Transaction(ctx, func(tx *Store) error {
		var err error
		edge, err = tx.FindPairForUpdate(ctx, blockerID, blockedID)
		if err != nil {
			return err
		}
		if isBlocked(edge) {
			return nil
		}
		reverse, err := tx.FindPairForUpdate(ctx, blockedID, blockerID)
		if err != nil {
			return err
		}
		if reverse != nil && !isBlocked(reverse) {
			if err := tx.Delete(ctx, reverse); err != nil {
				return err
			}
		}
		if _, err := tx.UnlinkProjection(ctx, blockerID, blockedID); err != nil {
			return err
		}
		mutual, err := tx.CountMutualFriends(ctx, blockerID, blockedID)
		if err != nil {
			return err
		}
		if edge == nil {
			edge = &model.Friendship{UserID: blockerID, FriendID: blockedID}
		}
		edge.Status = model.FriendshipBlocked
		edge.MutualFriendsCount = mutual
		return tx.Upsert(ctx, edge)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("user blocked",
		zap.Int64("user_id", blockerID),
		zap.Int64("blocked_id", blockedID))
	return edge, nil
}

// UnblockUser lifts blockerID's block on blockedID. The users end up with
// no relationship.
func (e *Engine) UnblockUser(ctx context.Context, blockerID, blockedID int64) error {
	err := e.store.Transaction(ctx, func(tx *Store) error {
		edge, err := tx.FindPairForUpdate(ctx, blockerID, blockedID)
		if err != nil {
			return err
		}
		if !isBlocked(edge) {
			return fmt.Errorf("%w: user %d has not blocked user %d", ErrNotBlocked, blockerID, blockedID)
		}
		return tx.Delete(ctx, edge)
	})
	if err != nil {
		return err
	}
	e.logger.Info("user unblocked",
		zap.Int64("user_id", blockerID),
		zap.Int64("blocked_id", blockedID))
	return nil
}

// GetFriendshipStatus returns userID's view of the relationship with
// otherID: the status of userID's own edge, else the status of otherID's
// edge with ReceivedSuffix, else StatusNone.
func (e *Engine) GetFriendshipStatus(ctx context.Context, userID, otherID int64) (Status, error) {
	if userID == otherID {
		return "", fmt.Errorf("%w: user %d", ErrSelfReference, userID)
	}
	forward, err := e.store.FindPair(ctx, userID, otherID)
	if err != nil {
		return "", err
	}
	if forward != nil {
		return Status(forward.Status), nil
	}
	reverse, err := e.store.FindPair(ctx, otherID, userID)
	if err != nil {
		return "", err
	}
	if reverse != nil {
		return Status(string(reverse.Status) + ReceivedSuffix), nil
	}
	return StatusNone, nil
}

// GetMutualFriendsCount counts the friends userID and otherID share.
func (e *Engine) GetMutualFriendsCount(ctx context.Context, userID, otherID int64) (int, error) {
	if userID == otherID {
		return 0, fmt.Errorf("%w: user %d", ErrSelfReference, userID)
	}
	return e.store.CountMutualFriends(ctx, userID, otherID)
}

// Suggestion is a user userID might know.
type Suggestion struct {
	User          UserRef `json:"user"`
	MutualFriends int     `json:"mutual_friends"`
}

// SuggestionPage is one page of suggestions. Page is 1-based.
type SuggestionPage struct {
	Items []Suggestion `json:"items"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
	Total int64        `json:"total"`
}

// GetFriendSuggestions ranks friends of userID's friends by how many
// friends they share with userID. Users with any edge to or from userID
// are never suggested.
func (e *Engine) GetFriendSuggestions(ctx context.Context, userID int64, page, size int) (*SuggestionPage, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = e.opts.SuggestionPageSize
	}
	size = min(size, e.opts.SuggestionMaxPageSize)

	// A page past the representable offset is past the last candidate.
	if page-1 > math.MaxInt/size {
		total, err := e.store.CountSuggestions(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &SuggestionPage{Items: []Suggestion{}, Page: page, Size: size, Total: total}, nil
	}

	rows, total, err := e.store.Suggestions(ctx, userID, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.CandidateID
	}
	refs, err := e.dir.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]UserRef, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}

	items := make([]Suggestion, 0, len(rows))
	for _, r := range rows {
		ref, ok := byID[r.CandidateID]
		if !ok {
			continue
		}
		items = append(items, Suggestion{User: ref, MutualFriends: r.MutualCount})
	}
	return &SuggestionPage{Items: items, Page: page, Size: size, Total: total}, nil
}
