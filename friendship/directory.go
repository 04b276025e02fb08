package friendship

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/socialgraph/model"
	"gorm.io/gorm"
)

// UserRef is the public projection of a user.
type UserRef struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// Name returns the display name, falling back to the username.
func (u UserRef) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func refOf(u *model.User) UserRef {
	return UserRef{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Email: u.Email}
}

// Directory resolves user identities. The friendship subsystem never
// creates or deletes users.
type Directory interface {
	FindByID(ctx context.Context, id int64) (*UserRef, error)
	FindByEmail(ctx context.Context, email string) (*UserRef, error)
	// FindByIDs returns the users in the order of ids, skipping unknown ids.
	FindByIDs(ctx context.Context, ids []int64) ([]UserRef, error)
}

// DBDirectory is a Directory over the users table.
type DBDirectory struct {
	db *gorm.DB
}

// NewDBDirectory creates a DBDirectory.
func NewDBDirectory(db *gorm.DB) *DBDirectory {
	return &DBDirectory{db: db}
}

func (d *DBDirectory) FindByID(ctx context.Context, id int64) (*UserRef, error) {
	var u model.User
	err := d.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("friendship: find user %d: %w", id, err)
	}
	ref := refOf(&u)
	return &ref, nil
}

func (d *DBDirectory) FindByEmail(ctx context.Context, email string) (*UserRef, error) {
	var u model.User
	err := d.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user with email %q", ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("friendship: find user by email: %w", err)
	}
	ref := refOf(&u)
	return &ref, nil
}

func (d *DBDirectory) FindByIDs(ctx context.Context, ids []int64) ([]UserRef, error) {
	if len(ids) == 0 {
		return []UserRef{}, nil
	}
	var users []model.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("friendship: find users: %w", err)
	}
	byID := make(map[int64]*model.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	out := make([]UserRef, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, refOf(u))
		}
	}
	return out, nil
}
