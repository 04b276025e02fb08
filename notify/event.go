// Package notify carries friendship notification events from the engine to
// whatever transport delivers them. Delivery is fire-and-forget.
package notify

import (
	"strconv"
	"time"
)

// EventType names a notification.
type EventType string

const (
	EventFriendRequestSent EventType = "friend_request"
	EventFriendAccepted    EventType = "friend_accepted"
)

// Event is a logical notification addressed to ReceiverID.
type Event struct {
	Type         EventType `json:"type"`
	SenderID     int64     `json:"sender_id"`
	ReceiverID   int64     `json:"receiver_id"`
	FriendshipID int64     `json:"friendship_id"`
	SentAt       time.Time `json:"sent_at"`
}

// FriendRequestSent builds the event emitted when sender asks receiver to be friends.
func FriendRequestSent(sender, receiver, friendshipID int64) Event {
	return Event{
		Type:         EventFriendRequestSent,
		SenderID:     sender,
		ReceiverID:   receiver,
		FriendshipID: friendshipID,
		SentAt:       time.Now(),
	}
}

// FriendAccepted builds the event emitted when sender accepts receiver's request.
func FriendAccepted(sender, receiver, friendshipID int64) Event {
	return Event{
		Type:         EventFriendAccepted,
		SenderID:     sender,
		ReceiverID:   receiver,
		FriendshipID: friendshipID,
		SentAt:       time.Now(),
	}
}

// Notifier accepts events for asynchronous delivery. Notify must not block
// on delivery and never reports delivery failures to the caller.
type Notifier interface {
	Notify(ev Event)
}

// Channel is the pub/sub channel carrying a user's notifications.
func Channel(userID int64) string {
	return "notify:" + strconv.FormatInt(userID, 10)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}
