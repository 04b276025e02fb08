package model

import "time"

// FriendshipStatus is the state of one directed friendship edge.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipAccepted FriendshipStatus = "ACCEPTED"
	FriendshipRejected FriendshipStatus = "REJECTED"
	FriendshipBlocked  FriendshipStatus = "BLOCKED"
)

// Friendship is a directed edge from UserID to FriendID.
// An accepted friendship is two ACCEPTED edges, one per direction.
// The unique index on (user_id, friend_id) arbitrates concurrent sends.
type Friendship struct {
	ID                 int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64            `gorm:"uniqueIndex:idx_friendship_pair;not null" json:"user_id"`
	FriendID           int64            `gorm:"uniqueIndex:idx_friendship_pair;index:idx_friendship_friend;not null" json:"friend_id"`
	Status             FriendshipStatus `gorm:"size:16;not null;index:idx_friendship_status" json:"status"`
	MutualFriendsCount int              `gorm:"default:0" json:"mutual_friends_count"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserFriend is the denormalized per-user friend list.
// It is a cache of the ACCEPTED edge pairs and is never used to decide
// whether two users are friends.
type UserFriend struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	FriendID  int64     `gorm:"primaryKey;autoIncrement:false;index:idx_user_friend_friend" json:"friend_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UserFriend) TableName() string {
	return "user_friends"
}
