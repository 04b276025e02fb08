package friendship_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kasuganosora/socialgraph/friendship"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/notify"
	"github.com/kasuganosora/socialgraph/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	ctx    context.Context
	db     *gorm.DB
	store  *friendship.Store
	engine *friendship.Engine
	query  *friendship.Query
	repair *friendship.Repairer
	rec    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := friendship.NewStore(db)
	dir := friendship.NewDBDirectory(db)
	rec := &recorder{}
	logger := zap.NewNop()
	return &fixture{
		ctx:    context.Background(),
		db:     db,
		store:  store,
		engine: friendship.NewEngine(store, dir, rec, logger, friendship.Options{}),
		query:  friendship.NewQuery(store, dir),
		repair: friendship.NewRepairer(store, logger),
		rec:    rec,
	}
}

func (f *fixture) user(t *testing.T, name string) int64 {
	t.Helper()
	return testutil.CreateUser(t, f.db, name).ID
}

// befriend makes a and b friends through a request from a.
func (f *fixture) befriend(t *testing.T, a, b int64) {
	t.Helper()
	res, err := f.engine.SendFriendRequest(f.ctx, a, b)
	require.NoError(t, err)
	_, err = f.engine.AcceptFriendRequest(f.ctx, res.Edge.ID, b)
	require.NoError(t, err)
}

func (f *fixture) edge(t *testing.T, a, b int64) *model.Friendship {
	t.Helper()
	e, err := f.store.FindPair(f.ctx, a, b)
	require.NoError(t, err)
	return e
}

func (f *fixture) projection(t *testing.T, userID int64) []int64 {
	t.Helper()
	ids, err := f.store.ProjectedFriendIDs(f.ctx, userID)
	require.NoError(t, err)
	return ids
}

func (f *fixture) status(t *testing.T, a, b int64) friendship.Status {
	t.Helper()
	s, err := f.engine.GetFriendshipStatus(f.ctx, a, b)
	require.NoError(t, err)
	return s
}

var errInjected = errors.New("injected write failure")

// failCreate makes every create of a *T on db fail with errInjected.
func failCreate[T any](t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_create", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Model.(*T); ok {
			_ = tx.AddError(errInjected)
		}
	})
	require.NoError(t, err)
}

// failDelete makes every delete of a *T on db fail with errInjected.
func failDelete[T any](t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Callback().Delete().Before("gorm:delete").Register("test:fail_delete", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Model.(*T); ok {
			_ = tx.AddError(errInjected)
		}
	})
	require.NoError(t, err)
}
