package bracket

import (
	"net"
	"strconv"
)

type Player struct {
	SteamID string `json:"steamId"`
	Name    string `json:"name"`
}

type Team struct {
	ID      string     `db:"id" json:"id"`
	Name    string     `db:"name" json:"name"`
	Tag     string     `db:"tag" json:"tag"`
	Players PlayerList `db:"players" json:"players"`
}

type Server struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Host     string `db:"host" json:"host"`
	Port     int    `db:"port" json:"port"`
	Password string `db:"password" json:"-"`
	Enabled  bool   `db:"enabled" json:"enabled"`
}

func (s *Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
