package server

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"snakearena/game"
	"snakearena/protocol"
)

const maxUsernameLen = 32

var (
	ErrEmptyUsername     = errors.New("username is empty")
	ErrUsernameTooLong   = errors.New("username is too long")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrUnknownPlayer     = errors.New("unknown player")
	ErrRoomNotFound      = errors.New("room not found")
)

// Registry 玩家目录 + 房间目录 + 大厅。
// 两个目录各有一把锁，只在目录修改时持有，从不跨网络发送持有。
type Registry struct {
	codec   protocol.Codec
	gameCfg game.Config
	metrics *ServerMetrics

	playersMu sync.Mutex
	players   map[PlayerID]*Player
	usernames map[string]PlayerID
	playerSeq uint64

	roomsMu sync.Mutex
	rooms   map[string]*Room
	roomSeq uint64
	seqs    map[string]uint64 // roomID -> 创建序号，用于稳定排序

	lobby *Room

	tickInterval atomic.Int64 // 纳秒
	roomCapacity atomic.Int64
	intervalCh   chan time.Duration
}

// NewRegistry 创建注册表并建立常驻大厅
func NewRegistry(cfg Config, codec protocol.Codec, metrics *ServerMetrics) *Registry {
	if metrics == nil {
		metrics = &ServerMetrics{}
	}
	r := &Registry{
		codec:      codec,
		gameCfg:    cfg.GameConfig(),
		metrics:    metrics,
		players:    make(map[PlayerID]*Player),
		usernames:  make(map[string]PlayerID),
		rooms:      make(map[string]*Room),
		seqs:       make(map[string]uint64),
		intervalCh: make(chan time.Duration, 1),
	}
	r.tickInterval.Store(int64(cfg.TickInterval))
	r.roomCapacity.Store(int64(cfg.RoomCapacity))
	r.lobby = newLobby(codec)
	r.rooms[LobbyID] = r.lobby
	return r
}

func (r *Registry) Lobby() *Room { return r.lobby }

func (r *Registry) Codec() protocol.Codec { return r.codec }

// Register 校验用户名并分配 player_N；成功后玩家尚未加入任何房间
func (r *Registry) Register(username string, conn *ClientConn) (*Player, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if len(username) > maxUsernameLen {
		return nil, ErrUsernameTooLong
	}

	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	if _, taken := r.usernames[username]; taken {
		return nil, ErrDuplicateUsername
	}
	r.playerSeq++
	p := &Player{
		ID:       PlayerID(fmt.Sprintf("player_%d", r.playerSeq)),
		Username: username,
		Conn:     conn,
	}
	r.players[p.ID] = p
	r.usernames[username] = p.ID
	return p, nil
}

// JoinLobby 认证完成后把玩家放入大厅并通知大厅成员
func (r *Registry) JoinLobby(p *Player) {
	if err := r.lobby.AddPlayer(p); err != nil {
		Log.Warnw("join lobby", "player_id", p.ID, "err", err)
		return
	}
	if !r.setRoom(p.ID, LobbyID) {
		r.lobby.RemovePlayer(p.ID)
		return
	}
	r.lobby.Broadcast(protocol.TypePlayerJoined, protocol.ServerSender,
		fmt.Sprintf("Player %s joined the lobby", p.Username), p.ID)
	// 新成员已在大厅，随广播收到一次房间列表
	r.BroadcastRoomList()
	Log.Infow("player joined lobby", "player_id", p.ID, "username", p.Username)
}

// RemovePlayer 断线清理：离开当前房间并从目录删除。重复调用安全
func (r *Registry) RemovePlayer(pid PlayerID) {
	r.playersMu.Lock()
	p, ok := r.players[pid]
	if !ok {
		r.playersMu.Unlock()
		return
	}
	delete(r.players, pid)
	delete(r.usernames, p.Username)
	roomID := p.roomID
	p.roomID = ""
	r.playersMu.Unlock()

	if room, ok := r.Room(roomID); ok {
		r.leaveRoom(p, room, fmt.Sprintf("Player %s left the game", p.Username))
	}
	r.BroadcastRoomList()
	Log.Infow("player removed", "player_id", pid, "username", p.Username)
}

func (r *Registry) Player(pid PlayerID) (*Player, bool) {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	p, ok := r.players[pid]
	return p, ok
}

// CurrentRoom 玩家当前所在房间
func (r *Registry) CurrentRoom(pid PlayerID) (*Room, bool) {
	r.playersMu.Lock()
	p, ok := r.players[pid]
	var roomID string
	if ok {
		roomID = p.roomID
	}
	r.playersMu.Unlock()
	if !ok {
		return nil, false
	}
	return r.Room(roomID)
}

func (r *Registry) Room(id string) (*Room, bool) {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	room, ok := r.rooms[id]
	return room, ok
}

// setRoom 更新玩家所在房间；玩家已被移除时返回 false
func (r *Registry) setRoom(pid PlayerID, roomID string) bool {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	p, ok := r.players[pid]
	if ok {
		p.roomID = roomID
	}
	return ok
}

func (r *Registry) roomOf(pid PlayerID) (string, bool) {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	p, ok := r.players[pid]
	if !ok {
		return "", false
	}
	return p.roomID, true
}

// CreateRoom 大厅中的玩家创建房间并成为房主
func (r *Registry) CreateRoom(pid PlayerID, name string) (*Room, error) {
	p, ok := r.Player(pid)
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if cur, _ := r.roomOf(pid); cur != LobbyID {
		return nil, fmt.Errorf("create room: %w", ErrAlreadyMember)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Room_%d", 100+rand.Intn(900))
	}

	r.roomsMu.Lock()
	r.roomSeq++
	id := fmt.Sprintf("room_%d", r.roomSeq)
	room := NewRoom(id, name, r.RoomCapacity(), r.codec, r.gameCfg)
	r.rooms[id] = room
	r.seqs[id] = r.roomSeq
	r.roomsMu.Unlock()

	Log.Infow("room created", "room_id", id, "name", name, "creator", p.Username)
	if err := r.moveToRoom(p, room); err != nil {
		r.dropRoom(room)
		return nil, err
	}
	return room, nil
}

// JoinRoom 加入指定房间；"refresh" 只返回房间列表
func (r *Registry) JoinRoom(pid PlayerID, target string) error {
	p, ok := r.Player(pid)
	if !ok {
		return ErrUnknownPlayer
	}
	if target == protocol.RefreshRoomList {
		r.SendRoomList(p)
		return nil
	}
	room, ok := r.Room(target)
	if !ok {
		r.replyJoinFailed(p, target, "", ErrRoomNotFound)
		return ErrRoomNotFound
	}
	return r.moveToRoom(p, room)
}

// LeaveRoom 回到大厅
func (r *Registry) LeaveRoom(pid PlayerID) error {
	p, ok := r.Player(pid)
	if !ok {
		return ErrUnknownPlayer
	}
	if cur, _ := r.roomOf(pid); cur == LobbyID {
		return nil
	}
	return r.moveToRoom(p, r.lobby)
}

// moveToRoom 唯一的换房入口：先加入目标房间（失败则原地不动并回复失败），
// 立即更新房间指针，再离开旧房间、通知、必要时销毁旧房间，最后通知新房间与大厅。
// 若玩家在加入期间被并发移除（断线或关停），撤销本次加入。
func (r *Registry) moveToRoom(p *Player, target *Room) error {
	oldID, ok := r.roomOf(p.ID)
	if !ok {
		return ErrUnknownPlayer
	}
	if oldID == target.ID {
		return ErrAlreadyMember
	}
	if err := target.AddPlayer(p); err != nil {
		r.replyJoinFailed(p, target.ID, target.Name, err)
		return err
	}
	if !r.setRoom(p.ID, target.ID) {
		if target.RemovePlayer(p.ID) && !target.IsLobby() {
			r.dropRoom(target)
		}
		return ErrUnknownPlayer
	}

	if old, ok := r.Room(oldID); ok {
		r.leaveRoom(p, old, fmt.Sprintf("Player %s left the room", p.Username))
	}

	_ = p.Conn.Send(protocol.TypeRoomJoined, target.JoinedPayload(p.ID))
	target.Broadcast(protocol.TypePlayerJoined, protocol.ServerSender,
		fmt.Sprintf("Player %s joined the room", p.Username), p.ID)
	if !target.IsLobby() {
		_ = p.Conn.Send(protocol.TypeGameState, target.State())
	}
	r.BroadcastRoomList()

	Log.Infow("player moved", "player_id", p.ID, "from", oldID, "to", target.ID)
	return nil
}

func (r *Registry) leaveRoom(p *Player, room *Room, text string) {
	empty := room.RemovePlayer(p.ID)
	room.Broadcast(protocol.TypePlayerLeft, protocol.ServerSender, text, "")
	if empty && !room.IsLobby() {
		r.dropRoom(room)
	}
}

// dropRoom 从目录删除房间（仅当目录中仍是同一实例）
func (r *Registry) dropRoom(room *Room) {
	r.roomsMu.Lock()
	if cur, ok := r.rooms[room.ID]; ok && cur == room {
		delete(r.rooms, room.ID)
		delete(r.seqs, room.ID)
	}
	r.roomsMu.Unlock()
	Log.Infow("room torn down", "room_id", room.ID)
}

func (r *Registry) replyJoinFailed(p *Player, roomID, roomName string, err error) {
	_ = p.Conn.Send(protocol.TypeRoomJoined, protocol.RoomJoined{
		RoomID:   roomID,
		RoomName: roomName,
		Status:   protocol.StatusFailed,
		Reason:   err.Error(),
	})
}

// StartGame 房主在当前房间开始游戏
func (r *Registry) StartGame(pid PlayerID) error {
	room, ok := r.CurrentRoom(pid)
	if !ok {
		return ErrUnknownPlayer
	}
	if err := room.StartGame(pid); err != nil {
		return err
	}
	r.BroadcastRoomList()
	return nil
}

// RestartGame 房主重开当前房间
func (r *Registry) RestartGame(pid PlayerID) error {
	room, ok := r.CurrentRoom(pid)
	if !ok {
		return ErrUnknownPlayer
	}
	if err := room.RestartGame(pid); err != nil {
		return err
	}
	r.BroadcastRoomList()
	return nil
}

// HandleMove 把方向意图交给玩家所在房间
func (r *Registry) HandleMove(in Input) bool {
	room, ok := r.CurrentRoom(in.PlayerID)
	if !ok || room.IsLobby() {
		return false
	}
	return room.OnInput(in)
}

// HandleChat 在发送者当前房间内转发聊天，From 为发送者用户名
func (r *Registry) HandleChat(pid PlayerID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	p, ok := r.Player(pid)
	if !ok {
		return
	}
	room, ok := r.CurrentRoom(pid)
	if !ok {
		return
	}
	room.Broadcast(protocol.TypeChat, p.Username, text, "")
}

// RoomList 非大厅房间列表，按创建顺序
func (r *Registry) RoomList() []protocol.RoomInfo {
	type entry struct {
		seq  uint64
		room *Room
	}
	r.roomsMu.Lock()
	entries := make([]entry, 0, len(r.rooms))
	for id, room := range r.rooms {
		if id == LobbyID {
			continue
		}
		entries = append(entries, entry{seq: r.seqs[id], room: room})
	}
	r.roomsMu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	list := make([]protocol.RoomInfo, 0, len(entries))
	for _, e := range entries {
		list = append(list, e.room.Info())
	}
	return list
}

func (r *Registry) SendRoomList(p *Player) {
	_ = p.Conn.Send(protocol.TypeRoomList, r.RoomList())
}

// BroadcastRoomList 大厅成员收到最新房间列表
func (r *Registry) BroadcastRoomList() {
	r.lobby.Broadcast(protocol.TypeRoomList, protocol.ServerSender, r.RoomList(), "")
}

// activeRooms 快照所有正在运行的非大厅房间
func (r *Registry) activeRooms() []*Room {
	r.roomsMu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		if id != LobbyID {
			rooms = append(rooms, room)
		}
	}
	r.roomsMu.Unlock()

	active := rooms[:0]
	for _, room := range rooms {
		if room.Active() {
			active = append(active, room)
		}
	}
	return active
}

func (r *Registry) TickInterval() time.Duration { return time.Duration(r.tickInterval.Load()) }

// SetTickInterval 热更新 Tick 周期，调度器在下一次循环生效
func (r *Registry) SetTickInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.tickInterval.Store(int64(d))
	select {
	case <-r.intervalCh:
	default:
	}
	r.intervalCh <- d
}

func (r *Registry) RoomCapacity() int { return int(r.roomCapacity.Load()) }

// SetRoomCapacity 只影响之后创建的房间
func (r *Registry) SetRoomCapacity(n int) {
	if n < 1 {
		return
	}
	r.roomCapacity.Store(int64(n))
}

// Stats 目录统计
func (r *Registry) Stats() map[string]any {
	r.playersMu.Lock()
	players := len(r.players)
	r.playersMu.Unlock()

	rooms := r.RoomList()
	active := 0
	for _, info := range rooms {
		if info.IsActive {
			active++
		}
	}
	return map[string]any{
		"players":      players,
		"rooms":        len(rooms),
		"active_rooms": active,
		"lobby":        r.lobby.Len(),
	}
}

// RoomMetrics 每个非大厅房间的运行指标
func (r *Registry) RoomMetrics() map[string]map[string]any {
	r.roomsMu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		if id != LobbyID {
			rooms = append(rooms, room)
		}
	}
	r.roomsMu.Unlock()

	out := make(map[string]map[string]any, len(rooms))
	for _, room := range rooms {
		out[room.ID] = room.Metrics().Snapshot()
	}
	return out
}

// Close 关闭所有玩家连接，各自的会话随即执行清理
func (r *Registry) Close() {
	r.playersMu.Lock()
	conns := make([]*ClientConn, 0, len(r.players))
	for _, p := range r.players {
		if p.Conn != nil {
			conns = append(conns, p.Conn)
		}
	}
	r.playersMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
