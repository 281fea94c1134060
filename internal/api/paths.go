package api

import (
	"cod-tracker/internal/domain"
	"fmt"
	"path/filepath"
	"strings"
)

// Request identifies one provider document.
type Request struct {
	Target    string
	GameMode  domain.GameMode
	DataType  domain.DataType
	Platform  domain.Platform
	StartTime int64
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s %s %s %d", r.Target, r.GameMode, r.DataType, r.Platform, r.StartTime)
}

func (r Request) kind() domain.DataType {
	if r.DataType == domain.DataTypeMatchesHistory {
		return domain.DataTypeMatches
	}
	return r.DataType
}

// BuildURL returns the remote endpoint for r, or "" when r has no endpoint.
func BuildURL(base string, r Request) string {
	target := strings.ReplaceAll(r.Target, "#", "%23")
	game, mode := r.GameMode.Split()

	var platform, searchType string
	switch r.Platform {
	case domain.PlatformBattle:
		platform, searchType = "battle", "gamer"
	case domain.PlatformActi:
		platform, searchType = "uno", "gamer"
	case domain.PlatformUno:
		platform, searchType = "uno", "uno"
	default:
		return ""
	}

	var path string
	switch r.kind() {
	case domain.DataTypeMatches:
		path = fmt.Sprintf("crm/cod/v2/title/%s/platform/%s/%s/%s/matches/%s/start/0/end/%d000/details",
			game, platform, searchType, target, mode, r.StartTime)
	case domain.DataTypeFullmatches:
		path = fmt.Sprintf("crm/cod/v2/title/%s/platform/%s/fullMatch/%s/%s/it/",
			game, platform, mode, target)
	case domain.DataTypeStats:
		path = fmt.Sprintf("stats/cod/v1/title/%s/platform/%s/%s/%s/profile/type/%s",
			game, platform, searchType, target, mode)
	case domain.DataTypeSearch:
		path = fmt.Sprintf("crm/cod/v2/platform/%s/username/%s/search", platform, target)
	default:
		return ""
	}

	return strings.TrimRight(base, "/") + "/" + path
}

// SnapshotPath returns where the local copy of r lives under root.
func SnapshotPath(root string, r Request) string {
	target := strings.ToLower(r.Target)
	kind := r.kind()
	dir := filepath.Join(root, "data", string(kind))

	switch kind {
	case domain.DataTypeMatches:
		return filepath.Join(dir, string(r.Platform), target, string(r.GameMode), fmt.Sprintf("%d.json", r.StartTime))
	case domain.DataTypeStats:
		return filepath.Join(dir, string(r.Platform), target, string(r.GameMode)+".json")
	case domain.DataTypeFullmatches:
		return filepath.Join(dir, string(r.GameMode), target+".json")
	case domain.DataTypeSearch:
		return filepath.Join(dir, string(r.Platform), target+".json")
	}
	return ""
}

// BasicPath returns the CSV export of a fullmatches BASIC partition. Year 0
// names a partition that is not split by year.
func BasicPath(root string, mode domain.GameMode, year int) string {
	name := "cod_fullmatches_" + string(mode)
	if year != 0 {
		name += fmt.Sprintf("_%d", year)
	}
	return filepath.Join(root, "data", "basic", name+".csv")
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

// ErrorPath returns where the raw payload of a failed fetch is kept.
func ErrorPath(root, message string) string {
	return filepath.Join(root, "error", fileNameReplacer.Replace(message)+".json")
}
