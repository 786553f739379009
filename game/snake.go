package game

// Palette 蛇的可选颜色
var Palette = []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD", "#98D8C8"}

// Snake 单个玩家的蛇，Body[0] 为头
type Snake struct {
	PlayerID string
	Body     []Point
	Heading  Direction
	Pending  Direction // 下一次 Tick 生效
	Alive    bool
	Score    int
	Color    string

	prevHead Point
}

func newSnake(playerID string, start Point, color string) *Snake {
	return &Snake{
		PlayerID: playerID,
		Body:     []Point{start},
		Heading:  DirRight,
		Pending:  DirRight,
		Alive:    true,
		Color:    color,
		prevHead: start,
	}
}

func (s *Snake) Head() Point { return s.Body[0] }

// SetDirection 记录意图；与当前方向正相反时拒绝
func (s *Snake) SetDirection(d Direction) bool {
	if d == DirNone || d == s.Heading.Opposite() {
		return false
	}
	s.Pending = d
	return true
}

func (s *Snake) occupies(p Point) bool {
	for _, c := range s.Body {
		if c == p {
			return true
		}
	}
	return false
}

// move 推进一步。返回是否吃到食物；非法移动时蛇死亡且身体不变
func (s *Snake) move(width, height int, food map[Point]struct{}, scorePerFood int) bool {
	if !s.Alive {
		return false
	}
	if s.Pending != s.Heading.Opposite() && s.Pending != DirNone {
		s.Heading = s.Pending
	}
	s.prevHead = s.Head()

	next := s.Head().Add(s.Heading)
	if next.X < 0 || next.X >= width || next.Y < 0 || next.Y >= height {
		s.Alive = false
		return false
	}
	if s.occupies(next) {
		s.Alive = false
		return false
	}

	s.Body = append(s.Body, Point{})
	copy(s.Body[1:], s.Body)
	s.Body[0] = next

	if _, ok := food[next]; ok {
		s.Score += scorePerFood
		return true
	}
	s.Body = s.Body[:len(s.Body)-1]
	return false
}
