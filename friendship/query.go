package friendship

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/socialgraph/model"
)

// FriendRequest is a pending edge together with the user on the other end:
// the sender for incoming requests, the receiver for outgoing ones.
type FriendRequest struct {
	model.Friendship
	User UserRef `json:"user"`
}

// Query serves read-only views of the friendship graph.
type Query struct {
	store *Store
	dir   Directory
}

// NewQuery creates a Query.
func NewQuery(store *Store, dir Directory) *Query {
	return &Query{store: store, dir: dir}
}

// GetUserFriends lists userID's friends ordered by id. Friendship is read
// from the edges, not the projection.
func (q *Query) GetUserFriends(ctx context.Context, userID int64) ([]UserRef, error) {
	ids, err := q.store.AcceptedFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return q.dir.FindByIDs(ctx, ids)
}

// GetPendingFriendRequests lists requests waiting for userID, newest first.
func (q *Query) GetPendingFriendRequests(ctx context.Context, userID int64) ([]FriendRequest, error) {
	edges, err := q.store.ListIncoming(ctx, userID, model.FriendshipPending)
	if err != nil {
		return nil, err
	}
	return q.hydrate(ctx, edges, func(f *model.Friendship) int64 { return f.UserID })
}

// GetSentFriendRequests lists userID's requests still waiting for an
// answer, newest first.
func (q *Query) GetSentFriendRequests(ctx context.Context, userID int64) ([]FriendRequest, error) {
	edges, err := q.store.ListOutgoing(ctx, userID, model.FriendshipPending)
	if err != nil {
		return nil, err
	}
	return q.hydrate(ctx, edges, func(f *model.Friendship) int64 { return f.FriendID })
}

// GetBlockedUsers lists the users userID has blocked, newest first.
func (q *Query) GetBlockedUsers(ctx context.Context, userID int64) ([]UserRef, error) {
	edges, err := q.store.ListOutgoing(ctx, userID, model.FriendshipBlocked)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(edges))
	for i := range edges {
		ids[i] = edges[i].FriendID
	}
	return q.dir.FindByIDs(ctx, ids)
}

// SearchFriends returns userID's friends whose display name, username or
// email contains term, ignoring case. An empty term matches everyone.
func (q *Query) SearchFriends(ctx context.Context, userID int64, term string) ([]UserRef, error) {
	friends, err := q.GetUserFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return friends, nil
	}
	out := make([]UserRef, 0, len(friends))
	for _, f := range friends {
		if strings.Contains(strings.ToLower(f.DisplayName), term) ||
			strings.Contains(strings.ToLower(f.Username), term) ||
			strings.Contains(strings.ToLower(f.Email), term) {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetMutualFriends lists the friends userID and otherID share.
func (q *Query) GetMutualFriends(ctx context.Context, userID, otherID int64) ([]UserRef, error) {
	if userID == otherID {
		return nil, fmt.Errorf("%w: user %d", ErrSelfReference, userID)
	}
	ids, err := q.store.MutualFriendIDs(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}
	return q.dir.FindByIDs(ctx, ids)
}

func (q *Query) hydrate(ctx context.Context, edges []model.Friendship, other func(*model.Friendship) int64) ([]FriendRequest, error) {
	ids := make([]int64, len(edges))
	for i := range edges {
		ids[i] = other(&edges[i])
	}
	refs, err := q.dir.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]UserRef, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}
	out := make([]FriendRequest, 0, len(edges))
	for i := range edges {
		ref, ok := byID[other(&edges[i])]
		if !ok {
			continue
		}
		out = append(out, FriendRequest{Friendship: edges[i], User: ref})
	}
	return out, nil
}
