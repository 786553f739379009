package server

import (
	"errors"
	"sync"
	"time"

	"snakearena/game"
	"snakearena/protocol"
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyMember = errors.New("player already in room")
	ErrRoomClosed    = errors.New("room is closed")
	ErrNotCreator    = errors.New("only the room creator can do this")
	ErrGameActive    = errors.New("game already running")
	ErrNoPlayers     = errors.New("room has no players")
	ErrLobbyAction   = errors.New("not allowed in the lobby")
)

// Room 房间：成员、房主、模拟实例，自带一把锁，与其他房间互不影响
type Room struct {
	ID   string
	Name string

	capacity int // 0 表示不限（大厅）
	lobby    bool
	codec    protocol.Codec
	gameCfg  game.Config

	mu      sync.Mutex
	members map[PlayerID]*Player
	order   []PlayerID // 加入顺序
	creator PlayerID
	sim     *game.Simulation
	ended   bool // 本局已判定结束，再次开始需重建模拟
	closed  bool // 最后一人离开后关闭，不再接受加入

	metrics RoomMetrics
}

// NewRoom 创建游戏房间
func NewRoom(id, name string, capacity int, codec protocol.Codec, gameCfg game.Config) *Room {
	return &Room{
		ID:       id,
		Name:     name,
		capacity: capacity,
		codec:    codec,
		gameCfg:  gameCfg,
		members:  make(map[PlayerID]*Player),
		sim:      game.New(gameCfg, nil),
	}
}

// newLobby 大厅：容量不限，没有房主，从不运行模拟
func newLobby(codec protocol.Codec) *Room {
	return &Room{
		ID:      LobbyID,
		Name:    "Lobby",
		lobby:   true,
		codec:   codec,
		members: make(map[PlayerID]*Player),
	}
}

func (r *Room) IsLobby() bool { return r.lobby }

func (r *Room) Metrics() *RoomMetrics { return &r.metrics }

// AddPlayer 加入玩家；失败时不产生任何副作用
func (r *Room) AddPlayer(p *Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.members[p.ID]; ok {
		return ErrAlreadyMember
	}
	if r.capacity > 0 && len(r.members) >= r.capacity {
		return ErrRoomFull
	}

	r.members[p.ID] = p
	r.order = append(r.order, p.ID)
	if r.lobby {
		return nil
	}
	if r.creator == "" {
		r.creator = p.ID
	}
	r.sim.AddSnake(string(p.ID))
	return nil
}

// RemovePlayer 移除玩家，返回房间是否已空。
// 房主离开时从剩余成员中重新选出房主，并向剩余成员推送新的 ROOM_JOINED。
func (r *Room) RemovePlayer(pid PlayerID) bool {
	r.mu.Lock()
	if _, ok := r.members[pid]; !ok {
		empty := len(r.members) == 0
		r.mu.Unlock()
		return empty
	}

	delete(r.members, pid)
	for i, id := range r.order {
		if id == pid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	empty := len(r.members) == 0
	var notices []notice
	if !r.lobby {
		r.sim.RemoveSnake(string(pid))
		switch {
		case empty:
			r.creator = ""
			r.closed = true
		case pid == r.creator:
			// 最早加入的幸存者接任
			r.creator = r.order[0]
		}
		if !empty {
			notices = r.joinedNoticesLocked()
		}
	}
	r.mu.Unlock()

	for _, n := range notices {
		_ = n.conn.Send(protocol.TypeRoomJoined, n.payload)
	}
	return empty
}

type notice struct {
	conn    *ClientConn
	payload protocol.RoomJoined
}

func (r *Room) joinedNoticesLocked() []notice {
	out := make([]notice, 0, len(r.order))
	for _, id := range r.order {
		p := r.members[id]
		if p.Conn == nil {
			continue
		}
		out = append(out, notice{conn: p.Conn, payload: r.joinedPayloadLocked(id)})
	}
	return out
}

func (r *Room) joinedPayloadLocked(pid PlayerID) protocol.RoomJoined {
	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		names = append(names, r.members[id].Username)
	}
	return protocol.RoomJoined{
		RoomID:    r.ID,
		RoomName:  r.Name,
		Players:   names,
		IsCreator: !r.lobby && pid == r.creator,
		Status:    protocol.StatusSuccess,
	}
}

// JoinedPayload 指定成员视角的 ROOM_JOINED 载荷
func (r *Room) JoinedPayload(pid PlayerID) protocol.RoomJoined {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinedPayloadLocked(pid)
}

// StartGame 仅房主可开始；上一局已结束时重建模拟
func (r *Room) StartGame(pid PlayerID) error {
	r.mu.Lock()
	if err := r.checkCreatorLocked(pid); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.sim.Active() {
		r.mu.Unlock()
		return ErrGameActive
	}
	if r.ended {
		r.rebuildLocked()
	}
	r.sim.Start()
	r.mu.Unlock()

	r.metrics.IncGamesStarted()
	r.announceStart(pid, "Game started")
	return nil
}

// RestartGame 仅房主可重开；总是按当前成员重建并激活
func (r *Room) RestartGame(pid PlayerID) error {
	r.mu.Lock()
	if err := r.checkCreatorLocked(pid); err != nil {
		r.mu.Unlock()
		return err
	}
	r.rebuildLocked()
	r.sim.Start()
	r.mu.Unlock()

	r.metrics.IncGamesStarted()
	r.announceStart(pid, "Game restarted")
	return nil
}

func (r *Room) checkCreatorLocked(pid PlayerID) error {
	if r.lobby {
		return ErrLobbyAction
	}
	if len(r.members) == 0 {
		return ErrNoPlayers
	}
	if pid != r.creator {
		return ErrNotCreator
	}
	return nil
}

// rebuildLocked 保留网格尺寸，为当前所有成员重新生成出生点
func (r *Room) rebuildLocked() {
	sim := game.New(r.sim.Config(), nil)
	for _, id := range r.order {
		sim.AddSnake(string(id))
	}
	r.sim = sim
	r.ended = false
}

func (r *Room) announceStart(pid PlayerID, msg string) {
	r.mu.Lock()
	startedBy := ""
	if p, ok := r.members[pid]; ok {
		startedBy = p.Username
	}
	state := r.stateLocked()
	conns := r.connsLocked("")
	r.mu.Unlock()

	r.sendTo(conns, protocol.TypeGameStarted, protocol.GameStarted{Message: msg, StartedBy: startedBy, RoomID: r.ID})
	r.sendTo(conns, protocol.TypeGameState, state)
}

// OnInput 记录方向意图（不立即移动），等下一次 Tick 处理
func (r *Room) OnInput(in Input) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lobby {
		return false
	}
	ok, err := r.sim.SetDirection(string(in.PlayerID), in.Command)
	if err != nil || !ok {
		r.metrics.IncRejected()
		return false
	}
	r.metrics.IncAccepted()
	return true
}

// UpdateTick 推进一次模拟；本 Tick 判定结束时先广播 GAME_OVER 再广播状态
func (r *Room) UpdateTick() {
	start := time.Now()
	r.mu.Lock()
	if r.lobby || !r.sim.Active() {
		r.mu.Unlock()
		return
	}
	out := r.sim.Tick()
	var over *protocol.GameOver
	if out.Over {
		r.ended = true
		over = r.gameOverLocked(out)
	}
	state := r.stateLocked()
	conns := r.connsLocked("")
	r.mu.Unlock()

	r.metrics.AddTick(time.Since(start).Nanoseconds())
	if over != nil {
		r.metrics.IncGamesFinished()
		Log.Infow("game over", "room_id", r.ID, "winner", over.WinnerName, "draw", over.Draw, "single_player", over.SinglePlayer)
		r.sendTo(conns, protocol.TypeGameOver, *over)
	}
	r.sendTo(conns, protocol.TypeGameState, state)
}

func (r *Room) gameOverLocked(out game.Outcome) *protocol.GameOver {
	g := &protocol.GameOver{Score: out.Score}
	switch out.Kind {
	case game.OutcomeWin:
		g.WinnerID = out.WinnerID
		if p, ok := r.members[PlayerID(out.WinnerID)]; ok {
			g.WinnerName = p.Username
		}
	case game.OutcomeDraw:
		g.Draw = true
	case game.OutcomeSolo:
		g.SinglePlayer = true
	}
	return g
}

// State 当前快照（大厅返回空状态）
func (r *Room) State() protocol.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Room) stateLocked() protocol.GameState {
	if r.lobby {
		return protocol.GameState{Snakes: map[string]protocol.SnakeState{}}
	}
	st := r.sim.Snapshot()
	out := protocol.GameState{
		Snakes: make(map[string]protocol.SnakeState, len(st.Snakes)),
		Food:   toCells(st.Food),
		Active: st.Active,
		Grid:   [2]int{st.Width, st.Height},
	}
	for _, sn := range st.Snakes {
		out.Snakes[sn.PlayerID] = protocol.SnakeState{
			PlayerID:  sn.PlayerID,
			Body:      toCells(sn.Body),
			Direction: sn.Heading.String(),
			Alive:     sn.Alive,
			Score:     sn.Score,
			Color:     sn.Color,
		}
	}
	return out
}

func toCells(points []game.Point) []protocol.Cell {
	cells := make([]protocol.Cell, len(points))
	for i, p := range points {
		cells[i] = protocol.Cell{X: p.X, Y: p.Y}
	}
	return cells
}

// Broadcast 向成员广播；在锁内快照收件人，锁外发送
func (r *Room) Broadcast(t protocol.MessageType, from string, payload any, exclude PlayerID) {
	env, err := protocol.NewEnvelope(r.codec, t, from, payload)
	if err != nil {
		Log.Errorw("encode broadcast", "room_id", r.ID, "type", t, "err", err)
		return
	}
	r.mu.Lock()
	conns := r.connsLocked(exclude)
	r.mu.Unlock()
	r.sendEnvelope(conns, env)
}

func (r *Room) sendTo(conns []*ClientConn, t protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(r.codec, t, protocol.ServerSender, payload)
	if err != nil {
		Log.Errorw("encode broadcast", "room_id", r.ID, "type", t, "err", err)
		return
	}
	r.sendEnvelope(conns, env)
}

// sendEnvelope 编码一次，所有收件人共享同一帧
func (r *Room) sendEnvelope(conns []*ClientConn, env protocol.Envelope) {
	frame, err := protocol.Encode(r.codec, env)
	if err != nil {
		Log.Errorw("frame broadcast", "room_id", r.ID, "type", env.Type, "err", err)
		return
	}
	for _, c := range conns {
		c.Enqueue(frame)
	}
}

func (r *Room) connsLocked(exclude PlayerID) []*ClientConn {
	conns := make([]*ClientConn, 0, len(r.members))
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		if c := r.members[id].Conn; c != nil {
			conns = append(conns, c)
		}
	}
	return conns
}

// Info 房间列表条目
func (r *Room) Info() protocol.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := protocol.RoomInfo{
		RoomID:      r.ID,
		Name:        r.Name,
		PlayerCount: len(r.members),
		MaxPlayers:  r.capacity,
	}
	if p, ok := r.members[r.creator]; ok {
		info.Creator = p.Username
	}
	if !r.lobby {
		info.IsActive = r.sim.Active()
	}
	return info
}

func (r *Room) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lobby && r.sim.Active()
}

func (r *Room) Creator() PlayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creator
}

func (r *Room) Has(pid PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[pid]
	return ok
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
