package friendship

import (
	"fmt"

	"github.com/kasuganosora/socialgraph/model"
)

// sendAction is what a friend request turns into given the edges already
// stored between the two users.
type sendAction int

const (
	sendCreate   sendAction = iota + 1 // no forward edge: insert PENDING
	sendReopen                         // forward REJECTED: back to PENDING
	sendCollapse                       // reverse PENDING or ACCEPTED: accept the pair
)

func (a sendAction) String() string {
	switch a {
	case sendCreate:
		return "create"
	case sendReopen:
		return "reopen"
	case sendCollapse:
		return "collapse"
	}
	return "unknown"
}

// decideSend picks the action for requester -> target given forward
// (requester -> target) and reverse (target -> requester), either of which
// may be nil. Forward is inspected first so that a requester who blocked
// the target is told so before anything about the reverse edge leaks.
func decideSend(forward, reverse *model.Friendship) (sendAction, error) {
	if forward != nil {
		switch forward.Status {
		case model.FriendshipPending:
			return 0, fmt.Errorf("%w: request %d is still pending", ErrDuplicateRequest, forward.ID)
		case model.FriendshipAccepted:
			return 0, fmt.Errorf("%w: users %d and %d", ErrAlreadyFriends, forward.UserID, forward.FriendID)
		case model.FriendshipBlocked:
			return 0, fmt.Errorf("%w: user %d has blocked user %d", ErrBlocked, forward.UserID, forward.FriendID)
		}
	}
	if reverse != nil {
		switch reverse.Status {
		case model.FriendshipBlocked:
			return 0, fmt.Errorf("%w: user %d has blocked user %d", ErrBlocked, reverse.UserID, reverse.FriendID)
		case model.FriendshipPending, model.FriendshipAccepted:
			return sendCollapse, nil
		}
	}
	if forward == nil {
		return sendCreate, nil
	}
	return sendReopen, nil
}

// checkReceiver validates that userID may accept or reject edge.
func checkReceiver(edge *model.Friendship, userID int64) error {
	if edge.FriendID != userID {
		return fmt.Errorf("%w: user %d is not the receiver of request %d", ErrForbidden, userID, edge.ID)
	}
	if edge.Status != model.FriendshipPending {
		return fmt.Errorf("%w: request %d is %s", ErrInvalidState, edge.ID, edge.Status)
	}
	return nil
}

// checkSender validates that userID may cancel edge.
func checkSender(edge *model.Friendship, userID int64) error {
	if edge.UserID != userID {
		return fmt.Errorf("%w: user %d is not the sender of request %d", ErrForbidden, userID, edge.ID)
	}
	if edge.Status != model.FriendshipPending {
		return fmt.Errorf("%w: request %d is %s", ErrInvalidState, edge.ID, edge.Status)
	}
	return nil
}

func isAccepted(f *model.Friendship) bool {
	return f != nil && f.Status == model.FriendshipAccepted
}

func isBlocked(f *model.Friendship) bool {
	return f != nil && f.Status == model.FriendshipBlocked
}
