package game

import (
	"errors"
	"math/rand"
)

var ErrUnknownSnake = errors.New("game: no snake for player")

// Config 网格与规则参数
type Config struct {
	Width         int
	Height        int
	InitialFood   int
	ScorePerFood  int
	FoodAttempts  int // 单个食物的随机放置尝试次数
	SpawnAttempts int // 出生点尝试次数
	SpawnMargin   int // 出生点离边界的最小距离
}

func DefaultConfig() Config {
	return Config{
		Width:         40,
		Height:        30,
		InitialFood:   5,
		ScorePerFood:  10,
		FoodAttempts:  50,
		SpawnAttempts: 100,
		SpawnMargin:   3,
	}
}

// OutcomeKind 本局结束方式
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeWin
	OutcomeDraw
	OutcomeSolo
)

// Outcome 一次 Tick 的结果；Over 仅在本次 Tick 检测到结束时为 true
type Outcome struct {
	Over     bool
	Kind     OutcomeKind
	WinnerID string
	Score    int
}

// Simulation 一局游戏的权威状态。非并发安全，由 Room 加锁访问
type Simulation struct {
	cfg    Config
	rng    *rand.Rand
	snakes map[string]*Snake
	order  []string // 加入顺序，保证每 Tick 的遍历确定
	food   []Point
	active bool
	joined int // 本局曾加入的蛇数量
}

// New 创建模拟并投放初始食物；rng 为 nil 时使用随机种子
func New(cfg Config, rng *rand.Rand) *Simulation {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	s := &Simulation{
		cfg:    cfg,
		rng:    rng,
		snakes: make(map[string]*Snake),
	}
	for i := 0; i < cfg.InitialFood; i++ {
		s.spawnFood()
	}
	return s
}

func (s *Simulation) Config() Config { return s.cfg }

func (s *Simulation) Active() bool { return s.active }

// Start 激活模拟，之后 Tick 才会推进
func (s *Simulation) Start() { s.active = true }

// Len 当前拥有蛇的玩家数
func (s *Simulation) Len() int { return len(s.snakes) }

func (s *Simulation) Snake(playerID string) (*Snake, bool) {
	sn, ok := s.snakes[playerID]
	return sn, ok
}

func (s *Simulation) Food() []Point {
	out := make([]Point, len(s.food))
	copy(out, s.food)
	return out
}

// AddSnake 为玩家在空闲格子上生成一条蛇；已存在时直接返回
func (s *Simulation) AddSnake(playerID string) *Snake {
	if sn, ok := s.snakes[playerID]; ok {
		return sn
	}
	start, ok := s.findSpawn()
	if !ok {
		m := s.cfg.SpawnMargin + 2
		start = Point{X: s.randBetween(m, s.cfg.Width-m-1), Y: s.randBetween(m, s.cfg.Height-m-1)}
	}
	sn := newSnake(playerID, start, Palette[s.rng.Intn(len(Palette))])
	s.snakes[playerID] = sn
	s.order = append(s.order, playerID)
	s.joined++
	return sn
}

// RemoveSnake 玩家离开时移除其蛇；计数 joined 不回退
func (s *Simulation) RemoveSnake(playerID string) {
	if _, ok := s.snakes[playerID]; !ok {
		return
	}
	delete(s.snakes, playerID)
	for i, id := range s.order {
		if id == playerID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// SetDirection 仅在游戏进行中记录方向意图
func (s *Simulation) SetDirection(playerID string, d Direction) (bool, error) {
	sn, ok := s.snakes[playerID]
	if !ok {
		return false, ErrUnknownSnake
	}
	if !s.active {
		return false, nil
	}
	return sn.SetDirection(d), nil
}

// Tick 推进一步：移动 → 食物 → 碰撞 → 结束判定
func (s *Simulation) Tick() Outcome {
	if !s.active {
		return Outcome{}
	}

	foodSet := make(map[Point]struct{}, len(s.food))
	for _, f := range s.food {
		foodSet[f] = struct{}{}
	}

	var eaten []Point
	for _, id := range s.order {
		sn := s.snakes[id]
		if sn.move(s.cfg.Width, s.cfg.Height, foodSet, s.cfg.ScorePerFood) {
			eaten = append(eaten, sn.Head())
		}
	}
	for _, p := range eaten {
		if s.removeFood(p) {
			s.spawnFood()
		}
	}

	s.resolveCollisions()
	return s.detectEnd()
}

// resolveCollisions 两两检查存活的蛇。先收集死亡再统一生效，结果与遍历顺序无关
func (s *Simulation) resolveCollisions() {
	moving := make([]*Snake, 0, len(s.order))
	for _, id := range s.order {
		if sn := s.snakes[id]; sn.Alive {
			moving = append(moving, sn)
		}
	}

	dead := make(map[*Snake]struct{})
	for i := 0; i < len(moving); i++ {
		for j := i + 1; j < len(moving); j++ {
			a, b := moving[i], moving[j]
			switch {
			case a.Head() == b.Head():
				dead[a], dead[b] = struct{}{}, struct{}{}
			case a.Head() == b.prevHead && b.Head() == a.prevHead:
				dead[a], dead[b] = struct{}{}, struct{}{}
			default:
				if hitsBody(a.Head(), b) {
					dead[a] = struct{}{}
				}
				if hitsBody(b.Head(), a) {
					dead[b] = struct{}{}
				}
			}
		}
	}
	for sn := range dead {
		sn.Alive = false
	}
}

// hitsBody 头部是否落在对方非头部的身体上
func hitsBody(head Point, other *Snake) bool {
	for _, c := range other.Body[1:] {
		if c == head {
			return true
		}
	}
	return false
}

func (s *Simulation) detectEnd() Outcome {
	alive := make([]*Snake, 0, len(s.order))
	for _, id := range s.order {
		if sn := s.snakes[id]; sn.Alive {
			alive = append(alive, sn)
		}
	}

	var out Outcome
	switch {
	case s.joined > 1 && len(alive) == 1:
		out = Outcome{Over: true, Kind: OutcomeWin, WinnerID: alive[0].PlayerID, Score: alive[0].Score}
	case s.joined > 1 && len(alive) == 0:
		out = Outcome{Over: true, Kind: OutcomeDraw}
	case s.joined == 1 && len(alive) == 0:
		out = Outcome{Over: true, Kind: OutcomeSolo}
		if len(s.order) == 1 {
			out.Score = s.snakes[s.order[0]].Score
		}
	}
	if out.Over {
		s.active = false
	}
	return out
}

func (s *Simulation) occupied(p Point) bool {
	for _, sn := range s.snakes {
		if sn.Alive && sn.occupies(p) {
			return true
		}
	}
	return false
}

func (s *Simulation) isFood(p Point) bool {
	for _, f := range s.food {
		if f == p {
			return true
		}
	}
	return false
}

func (s *Simulation) removeFood(p Point) bool {
	for i, f := range s.food {
		if f == p {
			s.food = append(s.food[:i], s.food[i+1:]...)
			return true
		}
	}
	return false
}

// spawnFood 拒绝采样放置一个食物，尝试次数用尽则放弃，不阻塞 Tick
func (s *Simulation) spawnFood() bool {
	for i := 0; i < s.cfg.FoodAttempts; i++ {
		p := Point{X: s.rng.Intn(s.cfg.Width), Y: s.rng.Intn(s.cfg.Height)}
		if !s.occupied(p) && !s.isFood(p) {
			s.food = append(s.food, p)
			return true
		}
	}
	return false
}

func (s *Simulation) findSpawn() (Point, bool) {
	m := s.cfg.SpawnMargin
	for i := 0; i < s.cfg.SpawnAttempts; i++ {
		p := Point{X: s.randBetween(m, s.cfg.Width-m-1), Y: s.randBetween(m, s.cfg.Height-m-1)}
		if !s.occupied(p) && !s.isFood(p) {
			return p, true
		}
	}
	return Point{}, false
}

// randBetween 闭区间随机数，区间无效时取中点
func (s *Simulation) randBetween(lo, hi int) int {
	if hi < lo {
		return (lo + hi) / 2
	}
	return lo + s.rng.Intn(hi-lo+1)
}
