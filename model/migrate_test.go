package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	alice := &model.User{Username: "alice", DisplayName: "Alice", PasswordHash: "hash"}
	require.NoError(t, db.Create(alice).Error)
	assert.Greater(t, alice.ID, int64(0))
	bob := &model.User{Username: "bob", PasswordHash: "hash"}
	require.NoError(t, db.Create(bob).Error)

	edge := &model.Friendship{UserID: alice.ID, FriendID: bob.ID, Status: model.FriendshipPending}
	require.NoError(t, db.Create(edge).Error)
	assert.False(t, edge.CreatedAt.IsZero())

	require.NoError(t, db.Create(&model.UserFriend{UserID: alice.ID, FriendID: bob.ID}).Error)

	al := &model.AuditLog{TraceID: "trace-001", Action: "friend_request", CreatedAt: time.Now()}
	require.NoError(t, db.Create(al).Error)

	var found model.Friendship
	require.NoError(t, db.First(&found, edge.ID).Error)
	assert.Equal(t, model.FriendshipPending, found.Status)
}

func TestFriendshipPairIsUnique(t *testing.T) {
	db := testutil.SetupTestDB(t)

	require.NoError(t, db.Create(&model.Friendship{UserID: 1, FriendID: 2, Status: model.FriendshipPending}).Error)
	err := db.Create(&model.Friendship{UserID: 1, FriendID: 2, Status: model.FriendshipPending}).Error
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

	// The reverse orientation is a different edge.
	require.NoError(t, db.Create(&model.Friendship{UserID: 2, FriendID: 1, Status: model.FriendshipPending}).Error)
}
