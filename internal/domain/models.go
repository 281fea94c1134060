package domain

import (
	"fmt"
	"strings"
)

type GameMode string

const (
	GameModeAll  GameMode = "all"
	GameModeMwMp GameMode = "mw_mp"
	GameModeMwWz GameMode = "mw_wz"
	GameModeCwMp GameMode = "cw_mp"
	GameModeVgMp GameMode = "vg_mp"
)

// GameModes lists every concrete mode in tracking order.
var GameModes = []GameMode{GameModeMwMp, GameModeMwWz, GameModeCwMp, GameModeVgMp}

func ParseGameMode(s string) (GameMode, error) {
	mode := GameMode(s)
	if mode == GameModeAll {
		return mode, nil
	}
	for _, m := range GameModes {
		if m == mode {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unknown game mode %q", s)
}

// IsMW reports whether the mode keeps loadouts and is promoted to fullmatches.
func (m GameMode) IsMW() bool {
	return m == GameModeMwMp || m == GameModeMwWz
}

// Split returns the provider title and mode, e.g. mw_wz -> (mw, wz).
func (m GameMode) Split() (game, mode string) {
	game, mode, _ = strings.Cut(string(m), "_")
	return game, mode
}

// Expand returns the concrete modes covered by m.
func (m GameMode) Expand() []GameMode {
	if m == GameModeAll {
		return GameModes
	}
	return []GameMode{m}
}

type DataType string

const (
	DataTypeMatches         DataType = "matches"
	DataTypeMatchesHistory  DataType = "matches_history"
	DataTypeStats           DataType = "stats"
	DataTypeFullmatches     DataType = "fullmatches"
	DataTypeSearch          DataType = "search"
	DataTypeFullmatchesPars DataType = "fullmatches_pars"
	DataTypeAll             DataType = "all"
)

func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(s); dt {
	case DataTypeMatches, DataTypeMatchesHistory, DataTypeStats, DataTypeFullmatches,
		DataTypeSearch, DataTypeFullmatchesPars, DataTypeAll:
		return dt, nil
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

type Platform string

const (
	PlatformUno    Platform = "uno"
	PlatformActi   Platform = "acti"
	PlatformBattle Platform = "battle"
)

// PlatformPriority is the order in which player tags are tried against the provider.
var PlatformPriority = []Platform{PlatformBattle, PlatformActi, PlatformUno}

type TrackerStatus string

const (
	TrackerActive   TrackerStatus = "active"
	TrackerInactive TrackerStatus = "inactive"
	TrackerBreak    TrackerStatus = "break"
)

func ParseTrackerStatus(s string) (TrackerStatus, error) {
	switch st := TrackerStatus(s); st {
	case TrackerActive, TrackerInactive, TrackerBreak:
		return st, nil
	}
	return "", fmt.Errorf("unknown tracker status %q", s)
}

type TargetType int

const (
	TargetPlayer TargetType = iota
	TargetGroup
	TargetAll
)

// TargetTypeOf classifies a task target: numeric unos are players, "all" is
// the whole tracker, anything else names a group.
func TargetTypeOf(target string) TargetType {
	if target == string(GameModeAll) {
		return TargetAll
	}
	if target == "" {
		return TargetGroup
	}
	for _, r := range target {
		if r < '0' || r > '9' {
			return TargetGroup
		}
	}
	return TargetPlayer
}

func (t TargetType) String() string {
	switch t {
	case TargetPlayer:
		return "player"
	case TargetGroup:
		return "group"
	default:
		return "all"
	}
}
