package domain

type LabelCategory string

const (
	LabelMap         LabelCategory = "map"
	LabelMode        LabelCategory = "mode"
	LabelGamesStats  LabelCategory = "games_stats"
	LabelWeapons     LabelCategory = "weapons"
	LabelAttachments LabelCategory = "attachments"
	LabelPerks       LabelCategory = "perks"
	LabelKillstreaks LabelCategory = "killstreaks"
	LabelTactical    LabelCategory = "tactical"
	LabelLethal      LabelCategory = "lethal"
)

var LabelCategories = []LabelCategory{
	LabelMap, LabelMode, LabelGamesStats, LabelWeapons, LabelAttachments,
	LabelPerks, LabelKillstreaks, LabelTactical, LabelLethal,
}

func (c LabelCategory) Valid() bool {
	for _, known := range LabelCategories {
		if c == known {
			return true
		}
	}
	return false
}

type Label struct {
	Name  string  `json:"name"`
	Label *string `json:"label"`
}

// DisplayName prefers the human label over the internal name.
func (l Label) DisplayName() string {
	if l.Label != nil && *l.Label != "" {
		return *l.Label
	}
	return l.Name
}

type LabelEntry struct {
	ID       int64
	Category LabelCategory
	Name     string
	Label    *string
	GameMode GameMode
}

type Weapon struct {
	Label
	Attachments []Label `json:"attachments"`
}

// Loadout is one life's equipment; slot order is significant for encoding.
type Loadout struct {
	PrimaryWeapon   *Weapon `json:"primaryWeapon"`
	SecondaryWeapon *Weapon `json:"secondaryWeapon"`
	Perks           []Label `json:"perks"`
	ExtraPerks      []Label `json:"extraPerks,omitempty"`
	Killstreaks     []Label `json:"killstreaks"`
	Tactical        *Label  `json:"tactical"`
	Lethal          *Label  `json:"lethal"`
}

// WeaponStatValues field order is the positional wire order of encoded stats.
type WeaponStatValues struct {
	Kills            int `json:"kills"`
	Deaths           int `json:"deaths"`
	Hits             int `json:"hits"`
	Shots            int `json:"shots"`
	Headshots        int `json:"headshots"`
	XpEarned         int `json:"xpEarned"`
	StartingWeaponXp int `json:"startingWeaponXp"`
}

func (v WeaponStatValues) Values() [7]int {
	return [7]int{v.Kills, v.Deaths, v.Hits, v.Shots, v.Headshots, v.XpEarned, v.StartingWeaponXp}
}

func WeaponStatValuesFrom(values [7]int) WeaponStatValues {
	return WeaponStatValues{
		Kills:            values[0],
		Deaths:           values[1],
		Hits:             values[2],
		Shots:            values[3],
		Headshots:        values[4],
		XpEarned:         values[5],
		StartingWeaponXp: values[6],
	}
}

type WeaponStat struct {
	Label
	Stats WeaponStatValues `json:"stats"`
}
