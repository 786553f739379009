package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSim(width, height int) *Simulation {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = width, height
	cfg.InitialFood = 0
	s := New(cfg, rand.New(rand.NewSource(1)))
	s.Start()
	return s
}

// place 直接放置一条蛇，绕开随机出生点
func place(s *Simulation, id string, heading Direction, body ...Point) *Snake {
	sn := newSnake(id, body[0], "#FFFFFF")
	sn.Body = append([]Point(nil), body...)
	sn.Heading, sn.Pending = heading, heading
	s.snakes[id] = sn
	s.order = append(s.order, id)
	s.joined++
	return sn
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{in: "UP", want: DirUp},
		{in: "down", want: DirDown},
		{in: " Left ", want: DirLeft},
		{in: "RIGHT", want: DirRight},
		{in: "sideways", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDirection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, got.Opposite().Opposite())
		})
	}
}

func TestSimulation_NoSelfReversal(t *testing.T) {
	s := newTestSim(10, 10)
	sn := place(s, "a", DirRight, Point{5, 5}, Point{4, 5})

	ok, err := s.SetDirection("a", DirLeft)
	require.NoError(t, err)
	assert.False(t, ok)

	s.Tick()
	assert.Equal(t, DirRight, sn.Heading)
	assert.Equal(t, Point{6, 5}, sn.Head())
	assert.True(t, sn.Alive)

	// 即使待定方向被写成反向，消费时也会拒绝
	sn.Pending = DirLeft
	s.Tick()
	assert.Equal(t, DirRight, sn.Heading)
	assert.Equal(t, Point{7, 5}, sn.Head())
}

func TestSimulation_TurnAppliesOnNextTick(t *testing.T) {
	s := newTestSim(10, 10)
	sn := place(s, "a", DirRight, Point{5, 5})

	ok, err := s.SetDirection("a", DirUp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, DirRight, sn.Heading)
	assert.Equal(t, Point{5, 5}, sn.Head())

	s.Tick()
	assert.Equal(t, DirUp, sn.Heading)
	assert.Equal(t, Point{5, 4}, sn.Head())
}

func TestSimulation_Growth(t *testing.T) {
	s := newTestSim(10, 10)
	sn := place(s, "a", DirRight, Point{5, 5}, Point{4, 5})
	s.food = []Point{{6, 5}}

	s.Tick()
	assert.Len(t, sn.Body, 3)
	assert.Equal(t, 10, sn.Score)
	assert.Equal(t, []Point{{6, 5}, {5, 5}, {4, 5}}, sn.Body)
	require.Len(t, s.food, 1, "exactly one replacement food")
	assert.NotEqual(t, Point{6, 5}, s.food[0])
	assert.False(t, sn.occupies(s.food[0]))

	s.food = nil
	s.Tick()
	assert.Len(t, sn.Body, 3)
	assert.Equal(t, 10, sn.Score)
	assert.Equal(t, Point{7, 5}, sn.Head())
}

func TestSimulation_WallDeathSinglePlayer(t *testing.T) {
	s := newTestSim(10, 10)
	sn := place(s, "a", DirRight, Point{9, 5}, Point{8, 5})
	sn.Score = 30

	out := s.Tick()
	assert.False(t, sn.Alive)
	assert.Equal(t, []Point{{9, 5}, {8, 5}}, sn.Body, "dead snake is not mutated")
	assert.True(t, out.Over)
	assert.Equal(t, OutcomeSolo, out.Kind)
	assert.Equal(t, 30, out.Score)
	assert.Empty(t, out.WinnerID)
	assert.False(t, s.Active())
}

func TestSimulation_SelfCollision(t *testing.T) {
	s := newTestSim(10, 10)
	sn := place(s, "a", DirLeft, Point{5, 5}, Point{6, 5}, Point{6, 4}, Point{5, 4}, Point{4, 4})

	ok, _ := s.SetDirection("a", DirUp)
	require.True(t, ok)
	s.Tick()
	assert.False(t, sn.Alive)
}

func TestSimulation_HeadToHead(t *testing.T) {
	s := newTestSim(10, 10)
	a := place(s, "a", DirRight, Point{3, 5})
	b := place(s, "b", DirLeft, Point{5, 5})

	out := s.Tick()
	assert.False(t, a.Alive)
	assert.False(t, b.Alive)
	assert.True(t, out.Over)
	assert.Equal(t, OutcomeDraw, out.Kind)
}

func TestSimulation_HeadSwapKillsBoth(t *testing.T) {
	orders := [][]string{{"a", "b"}, {"b", "a"}}
	for _, order := range orders {
		t.Run(order[0]+" first", func(t *testing.T) {
			s := newTestSim(10, 10)
			snakes := map[string]*Snake{}
			for _, id := range order {
				if id == "a" {
					snakes[id] = place(s, "a", DirRight, Point{4, 5}, Point{3, 5})
				} else {
					snakes[id] = place(s, "b", DirLeft, Point{5, 5}, Point{6, 5})
				}
			}

			out := s.Tick()
			assert.False(t, snakes["a"].Alive)
			assert.False(t, snakes["b"].Alive)
			assert.Equal(t, OutcomeDraw, out.Kind)
		})
	}
}

func TestSimulation_HeadIntoBodyKillsOnlyMover(t *testing.T) {
	s := newTestSim(10, 10)
	a := place(s, "a", DirRight, Point{3, 5})
	b := place(s, "b", DirUp, Point{4, 4}, Point{4, 5}, Point{4, 6})
	b.Score = 20

	out := s.Tick()
	assert.False(t, a.Alive)
	assert.True(t, b.Alive)
	assert.Equal(t, []Point{{4, 3}, {4, 4}, {4, 5}}, b.Body)
	assert.True(t, out.Over)
	assert.Equal(t, OutcomeWin, out.Kind)
	assert.Equal(t, "b", out.WinnerID)
	assert.Equal(t, 20, out.Score)
}

func TestSimulation_EndScenarioTwoSnakes(t *testing.T) {
	s := newTestSim(10, 10)
	a := place(s, "a", DirRight, Point{7, 2})
	b := place(s, "b", DirDown, Point{2, 2})

	var out Outcome
	for i := 0; i < 10 && !out.Over; i++ {
		out = s.Tick()
	}

	require.True(t, out.Over)
	assert.False(t, a.Alive)
	assert.True(t, b.Alive)
	assert.Equal(t, OutcomeWin, out.Kind)
	assert.Equal(t, "b", out.WinnerID)
	assert.Equal(t, b.Score, out.Score)
	assert.False(t, s.Active())

	// 结束后不再推进，方向也不再接收
	head := b.Head()
	ok, err := s.SetDirection("b", DirRight)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Outcome{}, s.Tick())
	assert.Equal(t, head, b.Head())
}

func TestSimulation_LeaverStillCountsAsJoined(t *testing.T) {
	s := newTestSim(10, 10)
	place(s, "a", DirRight, Point{2, 2})
	b := place(s, "b", DirDown, Point{5, 2})

	s.RemoveSnake("a")
	assert.Equal(t, 1, s.Len())

	out := s.Tick()
	assert.True(t, out.Over)
	assert.Equal(t, OutcomeWin, out.Kind)
	assert.Equal(t, b.PlayerID, out.WinnerID)
}

func TestSimulation_InactiveTickIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg, rand.New(rand.NewSource(7)))
	sn := s.AddSnake("a")
	head := sn.Head()

	assert.Equal(t, Outcome{}, s.Tick())
	assert.Equal(t, head, sn.Head())

	ok, err := s.SetDirection("a", DirUp)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SetDirection("ghost", DirUp)
	assert.ErrorIs(t, err, ErrUnknownSnake)
}

func TestSimulation_InitialFoodAndSpawn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 10, 10
	s := New(cfg, rand.New(rand.NewSource(3)))

	food := s.Food()
	require.Len(t, food, cfg.InitialFood)
	seen := map[Point]bool{}
	for _, f := range food {
		assert.False(t, seen[f], "food cells are distinct")
		seen[f] = true
		assert.True(t, f.X >= 0 && f.X < 10 && f.Y >= 0 && f.Y < 10)
	}

	a := s.AddSnake("a")
	b := s.AddSnake("b")
	assert.NotEqual(t, a.Head(), b.Head())
	for _, sn := range []*Snake{a, b} {
		h := sn.Head()
		assert.True(t, h.X >= cfg.SpawnMargin && h.X <= cfg.Width-cfg.SpawnMargin-1)
		assert.True(t, h.Y >= cfg.SpawnMargin && h.Y <= cfg.Height-cfg.SpawnMargin-1)
		assert.Contains(t, Palette, sn.Color)
	}
	assert.Same(t, a, s.AddSnake("a"), "adding twice is idempotent")
	assert.Equal(t, 2, s.Len())
}

func TestSimulation_FoodPlacementGivesUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 2, 2
	cfg.InitialFood = 0
	s := New(cfg, rand.New(rand.NewSource(5)))
	place(s, "a", DirRight, Point{0, 0}, Point{1, 0}, Point{1, 1}, Point{0, 1})

	assert.False(t, s.spawnFood())
	assert.Empty(t, s.Food())
}

func TestSimulation_SnapshotIsACopy(t *testing.T) {
	s := newTestSim(10, 10)
	sn := place(s, "a", DirRight, Point{5, 5})
	s.food = []Point{{1, 1}}

	st := s.Snapshot()
	require.Len(t, st.Snakes, 1)
	assert.True(t, st.Active)
	assert.Equal(t, 10, st.Width)
	st.Snakes[0].Body[0] = Point{0, 0}
	st.Food[0] = Point{9, 9}

	assert.Equal(t, Point{5, 5}, sn.Head())
	assert.Equal(t, []Point{{1, 1}}, s.Food())
	assert.Equal(t, 1, s.AliveCount())
}
