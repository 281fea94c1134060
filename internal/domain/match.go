package domain

import "time"

type MatchResult int

const (
	ResultDraw MatchResult = 0
	ResultWin  MatchResult = 1
	ResultLoss MatchResult = 2
)

// MatchRecord is one player's participation in one game instance.
type MatchRecord struct {
	ID             int64
	MatchID        string
	Uno            string
	Username       string
	Clantag        string
	Time           time.Time
	Map            string
	Mode           string
	Team           string
	Result         int
	Duration       int
	TimePlayed     int
	Kills          int
	Deaths         int
	KdRatio        float64
	DamageDone     int
	DamageTaken    int
	Headshots      int
	LongestStreak  int
	Assists        int
	Score          int
	ScorePerMinute float64
	TotalXp        int
	Team1Score     int
	Team2Score     int
	PlayerCount    int
	TeamCount      int
	Loadout        string
	WeaponStats    string
	Extra          map[string]float64
}

// MatchView is a stored row prepared for display, with the encoded loadout
// and weapon stats expanded.
type MatchView struct {
	MatchID        string             `json:"matchID"`
	Uno            string             `json:"uno"`
	Username       string             `json:"username"`
	Clantag        string             `json:"clantag,omitempty"`
	Time           time.Time          `json:"time"`
	Map            string             `json:"map"`
	Mode           string             `json:"mode"`
	Team           string             `json:"team,omitempty"`
	Result         int                `json:"result"`
	Duration       int                `json:"duration"`
	TimePlayed     int                `json:"timePlayed"`
	Kills          int                `json:"kills"`
	Deaths         int                `json:"deaths"`
	KdRatio        float64            `json:"kdRatio"`
	DamageDone     int                `json:"damageDone"`
	DamageTaken    int                `json:"damageTaken"`
	Headshots      int                `json:"headshots"`
	LongestStreak  int                `json:"longestStreak"`
	Assists        int                `json:"assists"`
	Score          int                `json:"score"`
	ScorePerMinute float64            `json:"scorePerMinute"`
	TotalXp        int                `json:"totalXp"`
	Team1Score     int                `json:"team1Score"`
	Team2Score     int                `json:"team2Score"`
	Stats          map[string]float64 `json:"stats,omitempty"`
	Loadout        []Loadout          `json:"loadout,omitempty"`
	WeaponStats    []WeaponStat       `json:"weaponStats,omitempty"`
}

type PlayWith struct {
	Uno      string `json:"uno"`
	Username string `json:"username"`
	Count    int    `json:"count"`
}

type LoadoutUsage struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ChartMonth holds per-day match counts keyed by day of month.
type ChartMonth struct {
	Summ int         `json:"summ"`
	Days map[int]int `json:"days"`
}

type ChartYear struct {
	Summ   int                 `json:"summ"`
	Months map[int]*ChartMonth `json:"months"`
}

type Chart struct {
	Summ  int                `json:"summ"`
	Years map[int]*ChartYear `json:"years"`
}

// StatsBlob is the cached derived summary for a target.
type StatsBlob struct {
	Chart        *Chart         `json:"chart"`
	MostPlayWith []PlayWith     `json:"most_play_with"`
	Loadout      []LoadoutUsage `json:"loadout"`
	Time         time.Time      `json:"time"`
}
