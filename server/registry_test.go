package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snakearena/game"
	"snakearena/protocol"
)

func newTestRegistry() *Registry {
	return NewRegistry(testConfig(), testCodec, nil)
}

// join 注册并进入大厅，清空进入大厅时收到的消息
func join(t *testing.T, r *Registry, name string) *Player {
	t.Helper()
	p, err := r.Register(name, testConn(256))
	require.NoError(t, err)
	r.JoinLobby(p)
	drain(t, p.Conn)
	return p
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry()

	a, err := r.Register("alice", testConn(8))
	require.NoError(t, err)
	b, err := r.Register("  bob ", testConn(8))
	require.NoError(t, err)
	assert.Equal(t, PlayerID("player_1"), a.ID)
	assert.Equal(t, PlayerID("player_2"), b.ID)
	assert.Equal(t, "bob", b.Username)

	_, err = r.Register("alice", testConn(8))
	assert.ErrorIs(t, err, ErrDuplicateUsername)
	_, err = r.Register("   ", testConn(8))
	assert.ErrorIs(t, err, ErrEmptyUsername)
	_, err = r.Register(strings.Repeat("x", maxUsernameLen+1), testConn(8))
	assert.ErrorIs(t, err, ErrUsernameTooLong)

	r.RemovePlayer(a.ID)
	again, err := r.Register("alice", testConn(8))
	require.NoError(t, err)
	assert.Equal(t, PlayerID("player_3"), again.ID, "ids are never reused")
}

func TestRegistry_JoinLobbyNotifiesOthers(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")

	b, err := r.Register("bob", testConn(64))
	require.NoError(t, err)
	r.JoinLobby(b)

	// 新成员只收到一次房间列表
	assert.Equal(t, []protocol.MessageType{protocol.TypeRoomList}, typesOf(drain(t, b.Conn)))
	got := typesOf(drain(t, a.Conn))
	assert.Contains(t, got, protocol.TypePlayerJoined)
	assert.Contains(t, got, protocol.TypeRoomList)
	assert.Equal(t, 2, r.Lobby().Len())

	room, ok := r.CurrentRoom(b.ID)
	require.True(t, ok)
	assert.True(t, room.IsLobby())
}

func TestRegistry_CreateRoom(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")
	watcher := join(t, r, "bob")

	room, err := r.CreateRoom(a.ID, "arena")
	require.NoError(t, err)
	assert.Equal(t, "room_1", room.ID)
	assert.Equal(t, a.ID, room.Creator())

	envs := drain(t, a.Conn)
	joined := bind[protocol.RoomJoined](t, lastOf(t, envs, protocol.TypeRoomJoined))
	assert.True(t, joined.IsCreator)
	assert.Equal(t, protocol.StatusSuccess, joined.Status)
	assert.Equal(t, []string{"alice"}, joined.Players)
	assert.Contains(t, typesOf(envs), protocol.TypeGameState)

	list := bind[[]protocol.RoomInfo](t, lastOf(t, drain(t, watcher.Conn), protocol.TypeRoomList))
	require.Len(t, list, 1)
	assert.Equal(t, "arena", list[0].Name)
	assert.Equal(t, "alice", list[0].Creator)
	assert.Equal(t, 1, list[0].PlayerCount)

	_, err = r.CreateRoom(a.ID, "second")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	auto, err := r.CreateRoom(watcher.ID, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(auto.Name, "Room_"))
	assert.Equal(t, "room_2", auto.ID)
	assert.Equal(t, []string{"room_1", "room_2"}, roomIDs(r.RoomList()))
}

func roomIDs(list []protocol.RoomInfo) []string {
	out := make([]string, len(list))
	for i, info := range list {
		out[i] = info.RoomID
	}
	return out
}

func TestRegistry_JoinFailuresLeavePlayerInPlace(t *testing.T) {
	r := newTestRegistry()
	r.SetRoomCapacity(1)
	a := join(t, r, "alice")
	b := join(t, r, "bob")

	_, err := r.CreateRoom(a.ID, "solo")
	require.NoError(t, err)
	drain(t, b.Conn)

	err = r.JoinRoom(b.ID, "room_1")
	assert.ErrorIs(t, err, ErrRoomFull)
	reply := bind[protocol.RoomJoined](t, lastOf(t, drain(t, b.Conn), protocol.TypeRoomJoined))
	assert.Equal(t, protocol.StatusFailed, reply.Status)
	assert.Equal(t, ErrRoomFull.Error(), reply.Reason)

	cur, ok := r.CurrentRoom(b.ID)
	require.True(t, ok)
	assert.Equal(t, LobbyID, cur.ID)
	assert.True(t, r.Lobby().Has(b.ID))

	err = r.JoinRoom(b.ID, "room_404")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	reply = bind[protocol.RoomJoined](t, lastOf(t, drain(t, b.Conn), protocol.TypeRoomJoined))
	assert.Equal(t, protocol.StatusFailed, reply.Status)
	assert.Equal(t, "room_404", reply.RoomID)

	require.NoError(t, r.JoinRoom(b.ID, protocol.RefreshRoomList))
	envs := drain(t, b.Conn)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypeRoomList, envs[0].Type)
}

func TestRegistry_JoinAndLeaveTearsDownEmptyRoom(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")
	b := join(t, r, "bob")

	room, err := r.CreateRoom(a.ID, "arena")
	require.NoError(t, err)
	require.NoError(t, r.JoinRoom(b.ID, room.ID))
	assert.Equal(t, 2, room.Len())
	assert.Equal(t, 0, r.Lobby().Len())

	envs := drain(t, a.Conn)
	assert.Contains(t, typesOf(envs), protocol.TypePlayerJoined)
	bJoined := bind[protocol.RoomJoined](t, lastOf(t, drain(t, b.Conn), protocol.TypeRoomJoined))
	assert.False(t, bJoined.IsCreator)

	// 房主离开，bob 接任
	require.NoError(t, r.LeaveRoom(a.ID))
	assert.Equal(t, b.ID, room.Creator())
	notice := bind[protocol.RoomJoined](t, lastOf(t, drain(t, b.Conn), protocol.TypeRoomJoined))
	assert.True(t, notice.IsCreator)
	assert.True(t, r.Lobby().Has(a.ID))

	require.NoError(t, r.LeaveRoom(b.ID))
	_, ok := r.Room(room.ID)
	assert.False(t, ok)
	assert.Empty(t, r.RoomList())
	assert.Equal(t, 2, r.Lobby().Len())

	// 已在大厅时再离开无事发生
	require.NoError(t, r.LeaveRoom(b.ID))
}

func TestRegistry_RemovePlayerIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")
	b := join(t, r, "bob")
	room, err := r.CreateRoom(a.ID, "arena")
	require.NoError(t, err)
	require.NoError(t, r.JoinRoom(b.ID, room.ID))
	drain(t, b.Conn)

	r.RemovePlayer(a.ID)
	r.RemovePlayer(a.ID)

	_, ok := r.Player(a.ID)
	assert.False(t, ok)
	assert.False(t, room.Has(a.ID))
	assert.Equal(t, b.ID, room.Creator())
	assert.Contains(t, typesOf(drain(t, b.Conn)), protocol.TypePlayerLeft)

	r.RemovePlayer(b.ID)
	_, ok = r.Room(room.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Stats()["players"])
}

func TestRegistry_RemoveDuringJoinLeavesNoGhostMember(t *testing.T) {
	r := newTestRegistry()
	owner := join(t, r, "owner")
	room, err := r.CreateRoom(owner.ID, "arena")
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		p := join(t, r, fmt.Sprintf("guest%d", i))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.JoinRoom(p.ID, room.ID)
		}()
		go func() {
			defer wg.Done()
			r.RemovePlayer(p.ID)
		}()
		wg.Wait()

		_, ok := r.Player(p.ID)
		require.False(t, ok)
		require.False(t, room.Has(p.ID), "iteration %d: removed player still in room", i)
		require.False(t, r.Lobby().Has(p.ID), "iteration %d: removed player still in lobby", i)
	}
	assert.Equal(t, 1, room.Len())
	assert.Equal(t, 0, r.Lobby().Len())
}

func TestRegistry_StartAndMove(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")
	b := join(t, r, "bob")
	room, err := r.CreateRoom(a.ID, "arena")
	require.NoError(t, err)
	require.NoError(t, r.JoinRoom(b.ID, room.ID))

	assert.ErrorIs(t, r.StartGame(b.ID), ErrNotCreator)
	assert.False(t, r.HandleMove(Input{PlayerID: a.ID, Command: game.DirUp}))

	require.NoError(t, r.StartGame(a.ID))
	assert.True(t, room.Active())
	assert.True(t, r.RoomList()[0].IsActive)

	in, ok := parseInput(testCodec, a.ID, mustEnvelope(t, protocol.TypeMove, "UP"))
	require.True(t, ok)
	assert.True(t, r.HandleMove(in))

	_, ok = parseInput(testCodec, a.ID, mustEnvelope(t, protocol.TypeMove, "NORTH"))
	assert.False(t, ok)

	require.NoError(t, r.RestartGame(a.ID))
	assert.ErrorIs(t, r.StartGame(a.ID), ErrGameActive)
}

func mustEnvelope(t *testing.T, typ protocol.MessageType, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(testCodec, typ, "client", payload)
	require.NoError(t, err)
	return env
}

func TestRegistry_ChatStaysInRoom(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")
	b := join(t, r, "bob")
	lurker := join(t, r, "carol")
	room, err := r.CreateRoom(a.ID, "arena")
	require.NoError(t, err)
	require.NoError(t, r.JoinRoom(b.ID, room.ID))
	drain(t, a.Conn)
	drain(t, b.Conn)
	drain(t, lurker.Conn)

	r.HandleChat(b.ID, "gg")
	r.HandleChat(b.ID, "   ")

	for _, p := range []*Player{a, b} {
		envs := drain(t, p.Conn)
		require.Len(t, envs, 1)
		assert.Equal(t, protocol.TypeChat, envs[0].Type)
		assert.Equal(t, "bob", envs[0].From)
		assert.Equal(t, "gg", envs[0].Text(testCodec))
	}
	assert.Empty(t, drain(t, lurker.Conn))
}

func TestRegistry_StalledClientDoesNotBlockOtherRooms(t *testing.T) {
	r := newTestRegistry()

	// 队列只有一格且从不读取
	stalled, err := r.Register("stalled", testConn(1))
	require.NoError(t, err)
	r.JoinLobby(stalled)
	healthy := join(t, r, "healthy")

	slow, err := r.CreateRoom(stalled.ID, "slow")
	require.NoError(t, err)
	fast, err := r.CreateRoom(healthy.ID, "fast")
	require.NoError(t, err)
	require.NoError(t, r.StartGame(stalled.ID))
	require.NoError(t, r.StartGame(healthy.ID))
	drain(t, healthy.Conn)

	done := make(chan int)
	go func() { done <- r.TickActiveRooms() }()
	select {
	case n := <-done:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked on a stalled client")
	}

	assert.Equal(t, int64(1), slow.Metrics().TickCount)
	assert.Equal(t, int64(1), fast.Metrics().TickCount)
	assert.Contains(t, typesOf(drain(t, healthy.Conn)), protocol.TypeGameState)
	assert.Positive(t, stalled.Conn.metrics.QueueFullDiscarded)
}

func TestRegistry_RunTicksOnSchedule(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")
	room, err := r.CreateRoom(a.ID, "arena")
	require.NoError(t, err)
	require.NoError(t, r.StartGame(a.ID))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()
	r.SetTickInterval(5 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, r.TickInterval())

	assert.Eventually(t, func() bool {
		return room.Metrics().Snapshot()["tick_count"].(int64) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry()
	a := join(t, r, "alice")
	r.Close()

	select {
	case <-a.Conn.Done():
	default:
		t.Fatal("connection still open")
	}
	assert.False(t, a.Conn.Enqueue([]byte{0}))
}
