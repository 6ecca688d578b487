// Package matchconfig builds the frozen match configuration a game server fetches
// before it starts a match. The JSON layout is the one MatchZy's
// matchzy_loadmatch_url command consumes.
package matchconfig

import (
	"encoding/json"
	"fmt"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/veto"
	"github.com/jmoiron/sqlx/types"
)

const (
	defaultPlayersPerTeam = 5
	sideKnife             = "knife"
)

type TeamConfig struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Tag     string            `json:"tag,omitempty"`
	Players map[string]string `json:"players"`
}

type Config struct {
	MatchID           int64             `json:"matchid"`
	Team1             TeamConfig        `json:"team1"`
	Team2             TeamConfig        `json:"team2"`
	NumMaps           int               `json:"num_maps"`
	Maplist           []string          `json:"maplist"`
	MapSides          []string          `json:"map_sides"`
	PlayersPerTeam    int               `json:"players_per_team"`
	MinPlayersToReady int               `json:"min_players_to_ready"`
	ClinchSeries      bool              `json:"clinch_series"`
	SkipVeto          bool              `json:"skip_veto"`
	Cvars             map[string]string `json:"cvars,omitempty"`
}

// Build snapshots the match. A completed veto supplies the map order and sides;
// otherwise the first maps of the pool are used with a knife round for sides.
func Build(t *bracket.Tournament, m *bracket.Match, team1, team2 *bracket.Team) (*Config, error) {
	if team1 == nil || team2 == nil {
		return nil, apperr.Validation("match %s needs both teams for a config", m.Slug)
	}

	numMaps := t.Format.MapCount()
	cfg := &Config{
		MatchID:      m.ID,
		Team1:        teamConfig(team1),
		Team2:        teamConfig(team2),
		NumMaps:      numMaps,
		Maplist:      []string{},
		MapSides:     []string{},
		ClinchSeries: true,
		SkipVeto:     true,
		Cvars: map[string]string{
			"hostname": fmt.Sprintf("%s: %s vs %s", t.Name, team1.Name, team2.Name),
		},
	}

	if m.VetoState.Completed() {
		for _, p := range m.VetoState.PickedMaps {
			cfg.Maplist = append(cfg.Maplist, p.MapName)
			cfg.MapSides = append(cfg.MapSides, mapSide(p))
		}
	} else {
		for i := 0; i < numMaps && i < len(t.Maps); i++ {
			cfg.Maplist = append(cfg.Maplist, t.Maps[i])
			cfg.MapSides = append(cfg.MapSides, sideKnife)
		}
	}
	if len(cfg.Maplist) > 0 {
		cfg.NumMaps = len(cfg.Maplist)
	}

	players := max(len(team1.Players), len(team2.Players))
	if players == 0 {
		players = defaultPlayersPerTeam
	}
	cfg.PlayersPerTeam = players
	cfg.MinPlayersToReady = players
	return cfg, nil
}

func (c *Config) JSON() (types.NullJSONText, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return types.NullJSONText{}, err
	}
	return types.NullJSONText{JSONText: types.JSONText(b), Valid: true}, nil
}

func teamConfig(t *bracket.Team) TeamConfig {
	players := make(map[string]string, len(t.Players))
	for _, p := range t.Players {
		players[p.SteamID] = p.Name
	}
	return TeamConfig{ID: t.ID, Name: t.Name, Tag: t.Tag, Players: players}
}

// mapSide names the starting side from team1's perspective.
func mapSide(p veto.PickedMap) string {
	switch p.SideTeam1 {
	case veto.CT:
		return "team1_ct"
	case veto.T:
		return "team1_t"
	}
	return sideKnife
}
