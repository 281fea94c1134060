package service

import (
	"cod-tracker/internal/codec"
	"cod-tracker/internal/domain"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ProviderMatch is one entry of a provider matches page or of a fullmatch
// "allPlayers" list.
type ProviderMatch struct {
	UtcStartSeconds int64                         `json:"utcStartSeconds"`
	MatchID         string                        `json:"matchID"`
	Map             string                        `json:"map"`
	Mode            string                        `json:"mode"`
	Result          string                        `json:"result"`
	Duration        float64                       `json:"duration"`
	Team1Score      float64                       `json:"team1Score"`
	Team2Score      float64                       `json:"team2Score"`
	PlayerCount     float64                       `json:"playerCount"`
	TeamCount       float64                       `json:"teamCount"`
	Player          ProviderPlayer                `json:"player"`
	PlayerStats     map[string]any                `json:"playerStats"`
	WeaponStats     map[string]map[string]float64 `json:"weaponStats"`
}

type ProviderPlayer struct {
	Uno      string           `json:"uno"`
	Username string           `json:"username"`
	Clantag  string           `json:"clantag"`
	Team     string           `json:"team"`
	Loadout  []domain.Loadout `json:"loadout"`

	// some titles report weapon stats per player
	WeaponStats map[string]map[string]float64 `json:"weaponStats"`
}

// ProviderMatches is the payload of a matches page. Entries stay raw until
// decodeEntries so a malformed one can be skipped on its own.
type ProviderMatches struct {
	Matches []json.RawMessage `json:"matches"`
}

// ProviderFullmatch is the payload of a fullmatch document.
type ProviderFullmatch struct {
	AllPlayers []json.RawMessage `json:"allPlayers"`
}

// decodeEntries decodes each entry independently. skip is called with the
// index of every entry that does not decode.
func decodeEntries(raw []json.RawMessage, skip func(i int, err error)) []ProviderMatch {
	out := make([]ProviderMatch, 0, len(raw))
	for i, entry := range raw {
		var pm ProviderMatch
		if err := json.Unmarshal(entry, &pm); err != nil {
			skip(i, err)
			continue
		}
		out = append(out, pm)
	}
	return out
}

// renamed provider stat names
var statRenames = map[string]string{
	"xpAtEnd":       "totalXp",
	"damageDealt":   "damageDone",
	"highestStreak": "longestStreak",
	"teamPlacement": "result",
}

var roundedStats = map[string]bool{
	"kdRatio":                 true,
	"wlRatio":                 true,
	"scorePerGame":            true,
	"scorePerMinute":          true,
	"ekiadRatio":              true,
	"averageSpeedDuringMatch": true,
	"percentTimeMoving":       true,
}

// extra stat columns kept per mode besides the fixed record fields
var extraStats = map[domain.GameMode][]string{
	domain.GameModeMwMp: {
		"accuracy", "shotsLanded", "shotsFired", "shotsMissed", "hits", "misses", "suicides",
		"executions", "wallBangs", "nearmisses", "percentTimeMoving", "averageSpeedDuringMatch",
		"distanceTraveled", "matchXp", "scoreXp", "medalXp", "miscXp", "challengeXp", "bonusXp",
	},
	domain.GameModeMwWz: {
		"gulagKills", "gulagDeaths", "teamSurvivalTime", "percentTimeMoving", "distanceTraveled",
		"timeMoving", "matchXp", "scoreXp", "medalXp", "miscXp", "challengeXp", "bonusXp", "executions",
	},
	domain.GameModeCwMp: {
		"accuracy", "ekiadRatio", "wlRatio", "scorePerGame", "shotsLanded", "shotsFired",
		"shotsMissed", "timePlayedAlive", "objectives", "multikills", "highestMultikill",
	},
	domain.GameModeVgMp: {
		"accuracy", "ekiadRatio", "wlRatio", "scorePerGame", "shotsLanded", "shotsFired",
		"shotsMissed", "timePlayedAlive", "objectives",
	},
}

// MatchFormatter maps provider matches onto MatchRecord. Stat names that
// have no column are collected once per process and reported through
// NewColumns.
type MatchFormatter struct {
	codec  *codec.Codec
	extras map[domain.GameMode]map[string]bool
	logger zerolog.Logger

	mu       sync.Mutex
	pending  []string
	reported map[string]bool
}

func NewMatchFormatter(c *codec.Codec, logger zerolog.Logger) *MatchFormatter {
	extras := make(map[domain.GameMode]map[string]bool, len(extraStats))
	for mode, names := range extraStats {
		set := make(map[string]bool, len(names))
		for _, name := range names {
			set[name] = true
		}
		extras[mode] = set
	}
	return &MatchFormatter{codec: c, extras: extras, reported: map[string]bool{}, logger: logger}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (f *MatchFormatter) isExtra(mode domain.GameMode, name string) bool {
	if f.extras[mode][name] {
		return true
	}
	return mode.IsMW() && strings.HasPrefix(name, "objective")
}

func (f *MatchFormatter) newColumn(mode domain.GameMode, name string) {
	key := string(mode) + " " + name
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reported[key] {
		return
	}
	f.reported[key] = true
	f.pending = append(f.pending, key)
}

// NewColumns drains the unknown stat names seen since the last call.
func (f *MatchFormatter) NewColumns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := f.pending
	f.pending = nil
	return names
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Format converts one provider entry. The record's Uno stays empty when
// the provider omitted it.
func (f *MatchFormatter) Format(ctx context.Context, pm ProviderMatch, mode domain.GameMode) (domain.MatchRecord, error) {
	m := domain.MatchRecord{
		MatchID:     pm.MatchID,
		Time:        time.Unix(pm.UtcStartSeconds, 0).UTC(),
		Duration:    int(pm.Duration / 1000),
		Team1Score:  int(pm.Team1Score),
		Team2Score:  int(pm.Team2Score),
		PlayerCount: int(pm.PlayerCount),
		TeamCount:   int(pm.TeamCount),
	}

	if !codec.IsNoneValue(pm.Player.Uno) {
		m.Uno = pm.Player.Uno
	}
	if !codec.IsNoneValue(pm.Player.Username) {
		m.Username = pm.Player.Username
	}
	if !codec.IsNoneValue(pm.Player.Clantag) {
		m.Clantag = pm.Player.Clantag
	}
	if !codec.IsNoneValue(pm.Player.Team) {
		m.Team = pm.Player.Team
	}

	switch pm.Result {
	case "win":
		m.Result = int(domain.ResultWin)
	case "loss":
		m.Result = int(domain.ResultLoss)
	default:
		m.Result = int(domain.ResultDraw)
	}

	if pm.Map != "" {
		label, err := f.codec.Resolve(ctx, domain.LabelMap, pm.Map, mode)
		if err != nil {
			return m, err
		}
		m.Map = label.Name
	}
	if pm.Mode != "" {
		label, err := f.codec.Resolve(ctx, domain.LabelMode, pm.Mode, mode)
		if err != nil {
			return m, err
		}
		m.Mode = label.Name
	}

	names := make([]string, 0, len(pm.PlayerStats))
	for name := range pm.PlayerStats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := toFloat(pm.PlayerStats[name])
		if !ok {
			continue
		}
		if renamed, ok := statRenames[name]; ok {
			name = renamed
		}
		if roundedStats[name] {
			v = round2(v)
		}
		if !f.setStat(&m, mode, name, v) {
			f.newColumn(mode, name)
		}
	}

	if mode.IsMW() {
		loadout, err := f.codec.EncodeLoadouts(ctx, pm.Player.Loadout, mode)
		if err != nil {
			return m, fmt.Errorf("failed to encode loadout of %s: %w", pm.MatchID, err)
		}
		m.Loadout = loadout

		weaponStats := pm.WeaponStats
		if len(weaponStats) == 0 {
			weaponStats = pm.Player.WeaponStats
		}
		stats := make(map[string]domain.WeaponStatValues, len(weaponStats))
		for weapon, values := range weaponStats {
			stats[weapon] = domain.WeaponStatValues{
				Kills:            int(values["kills"]),
				Deaths:           int(values["deaths"]),
				Hits:             int(values["hits"]),
				Shots:            int(values["shots"]),
				Headshots:        int(values["headshots"]),
				XpEarned:         int(values["xpEarned"]),
				StartingWeaponXp: int(values["startingWeaponXp"]),
			}
		}
		encoded, err := f.codec.EncodeWeaponStats(ctx, stats, mode)
		if err != nil {
			return m, fmt.Errorf("failed to encode weapon stats of %s: %w", pm.MatchID, err)
		}
		m.WeaponStats = encoded
	}

	return m, nil
}

// setStat stores a playerStats value, reporting false when the name has
// no home in mode.
func (f *MatchFormatter) setStat(m *domain.MatchRecord, mode domain.GameMode, name string, v float64) bool {
	switch name {
	case "kills":
		m.Kills = int(v)
	case "deaths":
		m.Deaths = int(v)
	case "kdRatio":
		m.KdRatio = v
	case "damageDone":
		m.DamageDone = int(v)
	case "damageTaken":
		m.DamageTaken = int(v)
	case "headshots":
		m.Headshots = int(v)
	case "longestStreak":
		m.LongestStreak = int(v)
	case "assists":
		m.Assists = int(v)
	case "score":
		m.Score = int(v)
	case "scorePerMinute":
		m.ScorePerMinute = v
	case "totalXp":
		m.TotalXp = int(v)
	case "timePlayed":
		m.TimePlayed = int(v)
	case "result":
		m.Result = int(v)
	default:
		if !f.isExtra(mode, name) {
			return false
		}
		switch name {
		case "teamSurvivalTime":
			v = v / 1000
		case "accuracy":
			v = round2(v * 100)
		}
		if m.Extra == nil {
			m.Extra = map[string]float64{}
		}
		m.Extra[name] = v
	}
	return true
}
