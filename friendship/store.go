package friendship

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kasuganosora/socialgraph/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var accepted = model.FriendshipAccepted

// Store is the persistence layer for friendship edges and the
// user_friends projection. A Store obtained inside Transaction shares the
// transaction; all other Stores run each call on its own.
type Store struct {
	db *gorm.DB
}

// NewStore wraps db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn against a Store bound to a single database
// transaction. Any error returned by fn rolls the transaction back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// forUpdate adds a row lock where the dialect supports it. SQLite already
// serializes writers through its single connection.
func (s *Store) forUpdate(q *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

func first(q *gorm.DB) (*model.Friendship, error) {
	var f model.Friendship
	err := q.First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FindByID returns the edge with the given id, or nil.
func (s *Store) FindByID(ctx context.Context, id int64) (*model.Friendship, error) {
	return first(s.db.WithContext(ctx).Where("id = ?", id))
}

// FindByIDForUpdate is FindByID with a row lock.
func (s *Store) FindByIDForUpdate(ctx context.Context, id int64) (*model.Friendship, error) {
	return first(s.forUpdate(s.db.WithContext(ctx)).Where("id = ?", id))
}

// FindPair returns the edge userID -> friendID, or nil.
func (s *Store) FindPair(ctx context.Context, userID, friendID int64) (*model.Friendship, error) {
	return first(s.db.WithContext(ctx).Where("user_id = ? AND friend_id = ?", userID, friendID))
}

// FindPairForUpdate is FindPair with a row lock.
func (s *Store) FindPairForUpdate(ctx context.Context, userID, friendID int64) (*model.Friendship, error) {
	return first(s.forUpdate(s.db.WithContext(ctx)).Where("user_id = ? AND friend_id = ?", userID, friendID))
}

// Insert creates a new edge. A concurrent insert of the same ordered pair
// surfaces as ErrDuplicateRequest.
func (s *Store) Insert(ctx context.Context, f *model.Friendship) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %d -> %d", ErrDuplicateRequest, f.UserID, f.FriendID)
		}
		return fmt.Errorf("friendship: insert edge: %w", err)
	}
	return nil
}

// Update persists every column of an existing edge and bumps updated_at.
func (s *Store) Update(ctx context.Context, f *model.Friendship) error {
	if err := s.db.WithContext(ctx).Save(f).Error; err != nil {
		return fmt.Errorf("friendship: update edge %d: %w", f.ID, err)
	}
	return nil
}

// Upsert inserts f when it has no id yet, otherwise updates it.
func (s *Store) Upsert(ctx context.Context, f *model.Friendship) error {
	if f.ID == 0 {
		return s.Insert(ctx, f)
	}
	return s.Update(ctx, f)
}

// Delete removes one edge.
func (s *Store) Delete(ctx context.Context, f *model.Friendship) error {
	if err := s.db.WithContext(ctx).Delete(&model.Friendship{}, f.ID).Error; err != nil {
		return fmt.Errorf("friendship: delete edge %d: %w", f.ID, err)
	}
	return nil
}

// DeletePair removes both directed edges between a and b, whatever their
// status, and returns the number of edges removed.
func (s *Store) DeletePair(ctx context.Context, a, b int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return 0, fmt.Errorf("friendship: delete pair %d/%d: %w", a, b, res.Error)
	}
	return res.RowsAffected, nil
}

// LinkProjection records a and b in each other's friend list. Rows that
// already exist are left alone; the number of rows added is returned.
func (s *Store) LinkProjection(ctx context.Context, a, b int64) (int64, error) {
	rows := []model.UserFriend{{UserID: a, FriendID: b}, {UserID: b, FriendID: a}}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("friendship: link projection %d/%d: %w", a, b, res.Error)
	}
	return res.RowsAffected, nil
}

// UnlinkProjection removes a and b from each other's friend list and
// returns the number of rows removed.
func (s *Store) UnlinkProjection(ctx context.Context, a, b int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).
		Delete(&model.UserFriend{})
	if res.Error != nil {
		return 0, fmt.Errorf("friendship: unlink projection %d/%d: %w", a, b, res.Error)
	}
	return res.RowsAffected, nil
}

// ProjectedFriendIDs returns userID's friend list from the projection.
func (s *Store) ProjectedFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.UserFriend{}).
		Where("user_id = ?", userID).Order("friend_id ASC").Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: projected friends of %d: %w", userID, err)
	}
	return ids, nil
}

// AcceptedFriendIDs returns the users that have an ACCEPTED edge in both
// directions with userID, ordered by id.
func (s *Store) AcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Raw(`
SELECT f.friend_id FROM friendships f
JOIN friendships r ON r.user_id = f.friend_id AND r.friend_id = f.user_id AND r.status = @accepted
WHERE f.user_id = @user AND f.status = @accepted
ORDER BY f.friend_id ASC`, map[string]any{"user": userID, "accepted": accepted}).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: accepted friends of %d: %w", userID, err)
	}
	return ids, nil
}

// ListOutgoing returns userID's outgoing edges in status, newest first.
func (s *Store) ListOutgoing(ctx context.Context, userID int64, status model.FriendshipStatus) ([]model.Friendship, error) {
	var out []model.Friendship
	err := s.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, status).
		Order("updated_at DESC").Order("id DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: outgoing %s edges of %d: %w", status, userID, err)
	}
	return out, nil
}

// ListIncoming returns edges in status that point at userID, newest first.
func (s *Store) ListIncoming(ctx context.Context, userID int64, status model.FriendshipStatus) ([]model.Friendship, error) {
	var out []model.Friendship
	err := s.db.WithContext(ctx).Where("friend_id = ? AND status = ?", userID, status).
		Order("updated_at DESC").Order("id DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: incoming %s edges of %d: %w", status, userID, err)
	}
	return out, nil
}

const mutualFromSQL = `
FROM friendships fa
JOIN friendships ra ON ra.user_id = fa.friend_id AND ra.friend_id = fa.user_id AND ra.status = @accepted
JOIN friendships fb ON fb.friend_id = fa.friend_id AND fb.user_id = @other AND fb.status = @accepted
JOIN friendships rb ON rb.user_id = fb.friend_id AND rb.friend_id = fb.user_id AND rb.status = @accepted
WHERE fa.user_id = @user AND fa.status = @accepted AND fa.friend_id <> @other`

// CountMutualFriends counts the users that are friends with both a and b.
// Only pairs with ACCEPTED edges in both directions count as friends.
func (s *Store) CountMutualFriends(ctx context.Context, a, b int64) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Raw("SELECT COUNT(*) "+mutualFromSQL,
		map[string]any{"user": a, "other": b, "accepted": accepted}).Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("friendship: count mutual friends %d/%d: %w", a, b, err)
	}
	return int(n), nil
}

// MutualFriendIDs lists the users that are friends with both a and b.
func (s *Store) MutualFriendIDs(ctx context.Context, a, b int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Raw("SELECT fa.friend_id "+mutualFromSQL+" ORDER BY fa.friend_id ASC",
		map[string]any{"user": a, "other": b, "accepted": accepted}).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: mutual friends %d/%d: %w", a, b, err)
	}
	return ids, nil
}

// SuggestionRow is one ranked friend-of-friend candidate.
type SuggestionRow struct {
	CandidateID int64
	MutualCount int
}

// Candidates are friends of userID's friends with no edge of any status
// to or from userID.
const suggestionSQL = `
SELECT fb.friend_id AS candidate_id, COUNT(DISTINCT fa.friend_id) AS mutual_count
FROM friendships fa
JOIN friendships ra ON ra.user_id = fa.friend_id AND ra.friend_id = fa.user_id AND ra.status = @accepted
JOIN friendships fb ON fb.user_id = fa.friend_id AND fb.status = @accepted
JOIN friendships rb ON rb.user_id = fb.friend_id AND rb.friend_id = fb.user_id AND rb.status = @accepted
WHERE fa.user_id = @user AND fa.status = @accepted
  AND fb.friend_id <> @user
  AND NOT EXISTS (
    SELECT 1 FROM friendships x
    WHERE (x.user_id = @user AND x.friend_id = fb.friend_id)
       OR (x.user_id = fb.friend_id AND x.friend_id = @user)
  )
GROUP BY fb.friend_id`

// CountSuggestions returns how many friend-of-friend candidates userID has.
func (s *Store) CountSuggestions(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM ("+suggestionSQL+") candidates",
		map[string]any{"user": userID, "accepted": accepted}).Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("friendship: count suggestions for %d: %w", userID, err)
	}
	return total, nil
}

// Suggestions returns one page of candidates ranked by mutual friend count,
// ties broken by candidate id, together with the total candidate count.
func (s *Store) Suggestions(ctx context.Context, userID int64, limit, offset int) ([]SuggestionRow, int64, error) {
	total, err := s.CountSuggestions(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []SuggestionRow{}, 0, nil
	}

	args := map[string]any{"user": userID, "accepted": accepted, "limit": limit, "offset": offset}
	var rows []SuggestionRow
	err = s.db.WithContext(ctx).Raw(suggestionSQL+
		" ORDER BY mutual_count DESC, candidate_id ASC LIMIT @limit OFFSET @offset", args).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("friendship: suggestions for %d: %w", userID, err)
	}
	return rows, total, nil
}

// CounterpartIDs returns every user that appears opposite userID in an
// edge or projection row.
func (s *Store) CounterpartIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Raw(`
SELECT friend_id FROM friendships WHERE user_id = @user
UNION SELECT user_id FROM friendships WHERE friend_id = @user
UNION SELECT friend_id FROM user_friends WHERE user_id = @user
UNION SELECT user_id FROM user_friends WHERE friend_id = @user`,
		map[string]any{"user": userID}).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: counterparts of %d: %w", userID, err)
	}
	return ids, nil
}

// HalfAcceptedEdges returns ACCEPTED edges whose reverse is not ACCEPTED.
func (s *Store) HalfAcceptedEdges(ctx context.Context) ([]model.Friendship, error) {
	var out []model.Friendship
	err := s.db.WithContext(ctx).Raw(`
SELECT f.* FROM friendships f
WHERE f.status = @accepted AND NOT EXISTS (
  SELECT 1 FROM friendships r
  WHERE r.user_id = f.friend_id AND r.friend_id = f.user_id AND r.status = @accepted
)
ORDER BY f.id ASC`, map[string]any{"accepted": accepted}).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: half-accepted edges: %w", err)
	}
	return out, nil
}

// StaleProjectionRows returns projection rows without a fully accepted
// pair behind them.
func (s *Store) StaleProjectionRows(ctx context.Context) ([]model.UserFriend, error) {
	var out []model.UserFriend
	err := s.db.WithContext(ctx).Raw(`
SELECT uf.* FROM user_friends uf
WHERE NOT EXISTS (
  SELECT 1 FROM friendships f
  JOIN friendships r ON r.user_id = f.friend_id AND r.friend_id = f.user_id AND r.status = @accepted
  WHERE f.user_id = uf.user_id AND f.friend_id = uf.friend_id AND f.status = @accepted
)
ORDER BY uf.user_id ASC, uf.friend_id ASC`, map[string]any{"accepted": accepted}).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: stale projection rows: %w", err)
	}
	return out, nil
}

// MissingProjectionRows returns the projection rows that a fully accepted
// pair implies but that do not exist.
func (s *Store) MissingProjectionRows(ctx context.Context) ([]model.UserFriend, error) {
	var out []model.UserFriend
	err := s.db.WithContext(ctx).Raw(`
SELECT f.user_id, f.friend_id FROM friendships f
JOIN friendships r ON r.user_id = f.friend_id AND r.friend_id = f.user_id AND r.status = @accepted
LEFT JOIN user_friends uf ON uf.user_id = f.user_id AND uf.friend_id = f.friend_id
WHERE f.status = @accepted AND uf.user_id IS NULL
ORDER BY f.user_id ASC, f.friend_id ASC`, map[string]any{"accepted": accepted}).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("friendship: missing projection rows: %w", err)
	}
	return out, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// TranslateError covers the supported drivers; the message check catches
// dialects that do not translate.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
