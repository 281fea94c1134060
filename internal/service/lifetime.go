package service

import (
	"cod-tracker/internal/domain"
	"math"
	"strings"
)

// ProviderProps wraps the "properties" member of stat items.
type ProviderProps struct {
	Properties map[string]float64 `json:"properties"`
}

// ProviderLifetime is the lifetime member of a stats answer.
type ProviderLifetime struct {
	All             ProviderProps                       `json:"all"`
	ItemData        map[string]map[string]ProviderProps `json:"itemData"`
	AccoladeData    *ProviderProps                      `json:"accoladeData"`
	ScorestreakData map[string]map[string]ProviderProps `json:"scorestreakData"`
	AttachmentData  map[string]ProviderProps            `json:"attachmentData"`
}

// ProviderStats is the "data" member of a stats answer.
type ProviderStats struct {
	Title    string            `json:"title"`
	Lifetime *ProviderLifetime `json:"lifetime"`
}

// lifetime "all" keys duplicated elsewhere in the payload
var duplicatedStats = []string{"gamesPlayed", "winLossRatio", "recordKillStreak"}

// cold war names its lifetime keys differently
var cwStatRenames = map[string]string{
	"kdRatio":          "kdratio",
	"wlRatio":          "wlratio",
	"totalShots":       "shots",
	"longestStreak":    "longestKillstreak",
	"currentWinStreak": "curWinStreak",
}

func ratio(n, d float64) float64 {
	if d == 0 {
		d = 1
	}
	return round2(n / d)
}

// correctRatio recomputes the ratio stats from their summed parts.
func correctRatio(s domain.StatBlock) domain.StatBlock {
	kills, okKills := s["kills"]
	deaths, okDeaths := s["deaths"]
	if okKills && okDeaths {
		s["kdRatio"] = ratio(kills, deaths)
	}
	hits, okHits := s["hits"]
	shots, okShots := s["shots"]
	if okHits && okShots {
		s["accuracy"] = round2(ratio(hits, shots) * 100)
	}
	wins, okWins := s["wins"]
	losses, okLosses := s["losses"]
	if okWins && okLosses {
		s["wlRatio"] = ratio(wins, losses)
	}
	for _, name := range []string{"scorePerGame", "scorePerMinute"} {
		if v, ok := s[name]; ok {
			s[name] = round2(v)
		}
	}
	return s
}

func copyBlock(src map[string]float64) domain.StatBlock {
	dst := make(domain.StatBlock, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func itemBlocks(items map[string]ProviderProps) map[string]domain.StatBlock {
	blocks := make(map[string]domain.StatBlock, len(items))
	for name, item := range items {
		blocks[name] = copyBlock(item.Properties)
	}
	return blocks
}

// FormatLifetime converts a provider lifetime payload of game into the
// stored snapshot. Every item group gets an "all" summary entry.
func FormatLifetime(lt *ProviderLifetime, game string) *domain.GameStats {
	stats := &domain.GameStats{
		All:    copyBlock(lt.All.Properties),
		Groups: make(map[string]map[string]domain.StatBlock),
	}
	for _, name := range duplicatedStats {
		delete(stats.All, name)
	}

	for category, items := range lt.ItemData {
		if category == "scorestreak" {
			continue
		}
		stats.Groups[category] = itemBlocks(items)
	}

	scorestreak := make(map[string]domain.StatBlock)
	for _, items := range lt.ScorestreakData {
		for name, block := range itemBlocks(items) {
			scorestreak[name] = block
		}
	}
	stats.Groups["scorestreak"] = scorestreak

	if game == "cw" {
		for name, old := range cwStatRenames {
			stats.All[name] = stats.All[old]
			delete(stats.All, old)
		}
	} else {
		if lt.AccoladeData != nil {
			stats.AllAdditional = copyBlock(lt.AccoladeData.Properties)
		}
		stats.All["longestStreak"] = stats.All["bestKillStreak"]
		delete(stats.All, "bestKillStreak")
	}

	if len(lt.AttachmentData) > 0 {
		attachments := make(map[string]domain.StatBlock, len(lt.AttachmentData))
		for name, item := range lt.AttachmentData {
			block := make(domain.StatBlock, len(item.Properties))
			for stat, v := range item.Properties {
				if stat == "headShots" {
					stat = "headshots"
				}
				block[stat] = v
			}
			attachments[name] = block
		}
		stats.Groups["attachment"] = attachments
	}

	for _, items := range stats.Groups {
		summary := make(domain.StatBlock)
		for _, block := range items {
			for stat, v := range block {
				summary[stat] += v
			}
		}
		items[string(domain.GameModeAll)] = correctRatio(summary)
	}
	return stats
}

// isBestRecord reports whether a stat is a record, kept as the maximum
// across titles instead of summed.
func isBestRecord(name string) bool {
	switch name {
	case "accuracy", "longestStreak", "currentWinStreak":
		return true
	}
	return strings.Contains(name, "best") || strings.Contains(name, "record") || strings.Contains(name, "most")
}

func mergeBlock(dst, src domain.StatBlock, records bool) {
	for stat, v := range src {
		if records && isBestRecord(stat) {
			dst[stat] = math.Max(dst[stat], v)
			continue
		}
		dst[stat] += v
	}
}

// SummarizeTitles rebuilds the "all" entry of a games_stats map from the
// per-title snapshots.
func SummarizeTitles(gamesStats map[string]*domain.GameStats) {
	delete(gamesStats, string(domain.GameModeAll))
	summary := &domain.GameStats{
		All:           make(domain.StatBlock),
		AllAdditional: make(domain.StatBlock),
		Groups:        make(map[string]map[string]domain.StatBlock),
	}

	for _, stats := range gamesStats {
		if stats == nil {
			continue
		}
		mergeBlock(summary.All, stats.All, true)
		mergeBlock(summary.AllAdditional, stats.AllAdditional, true)
		for category, items := range stats.Groups {
			dst, ok := summary.Groups[category]
			if !ok {
				dst = make(map[string]domain.StatBlock)
				summary.Groups[category] = dst
			}
			for name, block := range items {
				if dst[name] == nil {
					dst[name] = make(domain.StatBlock)
				}
				mergeBlock(dst[name], block, false)
			}
		}
	}

	correctRatio(summary.All)
	gamesStats[string(domain.GameModeAll)] = summary
}
