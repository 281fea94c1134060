package domain

import "time"

// GameStatus gates ingestion for one mode of a target.
type GameStatus int

const (
	GameNotEnabled GameStatus = 0
	GameEnabled    GameStatus = 1
	GameDisabled   GameStatus = 2
)

// ParseStatus is the coarse progress stored under games[all].
type ParseStatus int

const (
	ParsedNone           ParseStatus = 0
	ParsedMatches        ParseStatus = 1
	ParsedFullmatches    ParseStatus = 2
	ParsedAllAndDisabled ParseStatus = 3
)

type GameLog struct {
	Uno     string    `json:"uno"`
	Records int       `json:"records"`
	Source  string    `json:"source"`
	Time    time.Time `json:"time"`
}

type MatchesStats struct {
	Matches     int `json:"matches"`
	Fullmatches int `json:"fullmatches"`
	Played      int `json:"played"`
}

type GameMatches struct {
	Stats MatchesStats `json:"stats"`
	Logs  []GameLog    `json:"logs"`
}

type StatsLogs struct {
	Logs []GameLog `json:"logs"`
}

type GameData struct {
	Status  int         `json:"status"`
	Matches GameMatches `json:"matches"`
	Stats   StatsLogs   `json:"stats"`
}

type Games map[GameMode]*GameData

// NewGames returns a zeroed status structure for every mode plus "all".
func NewGames() Games {
	games := make(Games, len(GameModes)+1)
	games[GameModeAll] = &GameData{}
	for _, mode := range GameModes {
		games[mode] = &GameData{}
	}
	return games
}

// Get returns the entry for mode, creating it when missing.
func (g Games) Get(mode GameMode) *GameData {
	if data, ok := g[mode]; ok && data != nil {
		return data
	}
	data := &GameData{}
	g[mode] = data
	return data
}

func (g Games) Status(mode GameMode) GameStatus {
	return GameStatus(g.Get(mode).Status)
}

func (g Games) ParseStatus() ParseStatus {
	return ParseStatus(g.Get(GameModeAll).Status)
}

type Player struct {
	ID           int64                 `json:"id"`
	Uno          string                `json:"uno"`
	Acti         string                `json:"acti,omitempty"`
	Battle       string                `json:"battle,omitempty"`
	Username     []string              `json:"username"`
	Clantag      []string              `json:"clantag"`
	Group        string                `json:"group,omitempty"`
	Games        Games                 `json:"games"`
	GamesStats   map[string]*GameStats `json:"games_stats"`
	Chart        *Chart                `json:"chart,omitempty"`
	MostPlayWith []PlayWith            `json:"most_play_with,omitempty"`
	Loadout      []LoadoutUsage        `json:"loadout,omitempty"`
	Time         time.Time             `json:"time"`
}

// PlatformTag returns the identifier the provider expects for platform.
func (p *Player) PlatformTag(platform Platform) string {
	switch platform {
	case PlatformBattle:
		return p.Battle
	case PlatformActi:
		return p.Acti
	default:
		return p.Uno
	}
}

func (p *Player) DisplayName() string {
	if len(p.Username) > 0 {
		return p.Username[0]
	}
	return p.Uno
}

// Group is a virtual aggregate of players sharing a group name.
type Group struct {
	Uno     string   `json:"uno"`
	Players []string `json:"players"`
	Games   Games    `json:"games"`
}

// StatBlock is a flat set of numeric lifetime stats.
type StatBlock map[string]float64

// GameStats is the lifetime snapshot of one title. Groups holds per-item
// stats by category (weapon class, scorestreak, attachment), each with an
// "all" summary entry.
type GameStats struct {
	All           StatBlock                       `json:"all"`
	AllAdditional StatBlock                       `json:"all_additional,omitempty"`
	Groups        map[string]map[string]StatBlock `json:"groups,omitempty"`
}

// Played returns the lifetime games played of the snapshot.
func (g *GameStats) Played() int {
	if g == nil {
		return 0
	}
	return int(g.All["totalGamesPlayed"])
}
