package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_RegisterAndLookup(t *testing.T) {
	m := NewManager(zap.NewNop())
	s := NewUserSession(1, nil, zap.NewNop())

	assert.False(t, m.IsOnline(1))
	m.Register(s)
	assert.True(t, m.IsOnline(1))
	assert.Same(t, s, m.Get(1))
	assert.Equal(t, 1, m.Count())
	assert.Len(t, m.All(), 1)

	m.Unregister(s)
	assert.False(t, m.IsOnline(1))
	assert.Nil(t, m.Get(1))
}

func TestManager_DuplicateDisplaced(t *testing.T) {
	m := NewManager(zap.NewNop())
	old := NewUserSession(1, nil, zap.NewNop())
	m.Register(old)
	fresh := NewUserSession(1, nil, zap.NewNop())
	m.Register(fresh)

	assert.True(t, old.IsClosed())
	assert.False(t, fresh.IsClosed())

	// The displaced session's cleanup must not evict its replacement.
	m.Unregister(old)
	assert.Same(t, fresh, m.Get(1))
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(zap.NewNop())
	a := NewUserSession(1, nil, zap.NewNop())
	b := NewUserSession(2, nil, zap.NewNop())
	m.Register(a)
	m.Register(b)

	go func() {
		<-a.Done
		m.Unregister(a)
		<-b.Done
		m.Unregister(b)
	}()
	m.CloseAll(time.Second)
	assert.Zero(t, m.Count())
}

func TestUserSession_Send(t *testing.T) {
	s := NewUserSession(1, nil, zap.NewNop())
	pkt, err := NewPacket("notification", map[string]int{"n": 1})
	require.NoError(t, err)
	s.Send(pkt)

	select {
	case raw := <-s.SendChan:
		var got Packet
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "notification", got.Type)
		assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	default:
		t.Fatal("expected a queued packet")
	}

	s.Close()
	s.Close()
	s.Send(pkt)
	assert.Empty(t, s.SendChan)
}

func TestUserSession_DropsWhenFull(t *testing.T) {
	s := NewUserSession(1, nil, zap.NewNop())
	for i := 0; i < sendChanBuf+10; i++ {
		s.SendRaw([]byte("x"))
	}
	assert.Len(t, s.SendChan, sendChanBuf)
}

func TestUserSession_AcceptSeq(t *testing.T) {
	s := NewUserSession(1, nil, zap.NewNop())

	assert.True(t, s.AcceptSeq(1))
	assert.True(t, s.AcceptSeq(5))
	assert.False(t, s.AcceptSeq(5), "repeated seq")
	assert.False(t, s.AcceptSeq(3), "older seq")
	assert.Equal(t, uint64(5), s.LastSeq)

	// Unnumbered packets never advance or trip the counter.
	assert.True(t, s.AcceptSeq(0))
	assert.True(t, s.AcceptSeq(0))
	assert.Equal(t, uint64(5), s.LastSeq)
	assert.True(t, s.AcceptSeq(6))
}
