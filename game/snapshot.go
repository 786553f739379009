package game

// SnakeView 蛇的只读副本
type SnakeView struct {
	PlayerID string
	Body     []Point
	Heading  Direction
	Alive    bool
	Score    int
	Color    string
}

// State 一次完整快照，与模拟内部状态不共享内存
type State struct {
	Snakes []SnakeView
	Food   []Point
	Active bool
	Width  int
	Height int
}

func (s *Simulation) Snapshot() State {
	st := State{
		Snakes: make([]SnakeView, 0, len(s.order)),
		Food:   s.Food(),
		Active: s.active,
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
	}
	for _, id := range s.order {
		sn := s.snakes[id]
		body := make([]Point, len(sn.Body))
		copy(body, sn.Body)
		st.Snakes = append(st.Snakes, SnakeView{
			PlayerID: sn.PlayerID,
			Body:     body,
			Heading:  sn.Heading,
			Alive:    sn.Alive,
			Score:    sn.Score,
			Color:    sn.Color,
		})
	}
	return st
}

// AliveCount 存活蛇数量
func (s *Simulation) AliveCount() int {
	n := 0
	for _, sn := range s.snakes {
		if sn.Alive {
			n++
		}
	}
	return n
}
