package protocol

// 载荷记录，msgpack 与 json 使用相同的字段名

// RefreshRoomList JOIN_ROOM 的特殊载荷：仅请求房间列表
const RefreshRoomList = "refresh"

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type Cell struct {
	X int `msgpack:"x" json:"x"`
	Y int `msgpack:"y" json:"y"`
}

type AuthReply struct {
	PlayerID string `msgpack:"player_id" json:"player_id"`
	Status   string `msgpack:"status" json:"status"`
	RoomID   string `msgpack:"room_id" json:"room_id"`
}

type RoomInfo struct {
	RoomID      string `msgpack:"room_id" json:"room_id"`
	Name        string `msgpack:"name" json:"name"`
	PlayerCount int    `msgpack:"player_count" json:"player_count"`
	MaxPlayers  int    `msgpack:"max_players" json:"max_players"`
	Creator     string `msgpack:"creator" json:"creator"`
	IsActive    bool   `msgpack:"is_active" json:"is_active"`
}

// RoomJoined 加入结果；Status 为 failed 时 Reason 说明原因，其余字段为空
type RoomJoined struct {
	RoomID    string   `msgpack:"room_id" json:"room_id"`
	RoomName  string   `msgpack:"room_name" json:"room_name"`
	Players   []string `msgpack:"players" json:"players"`
	IsCreator bool     `msgpack:"is_creator" json:"is_creator"`
	Status    string   `msgpack:"status" json:"status"`
	Reason    string   `msgpack:"reason,omitempty" json:"reason,omitempty"`
}

type GameStarted struct {
	Message   string `msgpack:"message" json:"message"`
	StartedBy string `msgpack:"started_by" json:"started_by"`
	RoomID    string `msgpack:"room_id" json:"room_id"`
}

type SnakeState struct {
	PlayerID  string `msgpack:"player_id" json:"player_id"`
	Body      []Cell `msgpack:"body" json:"body"`
	Direction string `msgpack:"direction" json:"direction"`
	Alive     bool   `msgpack:"alive" json:"alive"`
	Score     int    `msgpack:"score" json:"score"`
	Color     string `msgpack:"color" json:"color"`
}

type GameState struct {
	Snakes map[string]SnakeState `msgpack:"snakes" json:"snakes"`
	Food   []Cell                `msgpack:"food" json:"food"`
	Active bool                  `msgpack:"game_active" json:"game_active"`
	Grid   [2]int                `msgpack:"grid_size" json:"grid_size"`
}

type GameOver struct {
	WinnerID     string `msgpack:"winner_id,omitempty" json:"winner_id,omitempty"`
	WinnerName   string `msgpack:"winner_name,omitempty" json:"winner_name,omitempty"`
	Score        int    `msgpack:"score" json:"score"`
	Draw         bool   `msgpack:"draw" json:"draw"`
	SinglePlayer bool   `msgpack:"single_player" json:"single_player"`
}
