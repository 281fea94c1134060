// Package codec packs per-match loadouts and weapon stats into compact
// delimited strings of label ids and unpacks them again.
//
// Layout of an encoded loadout list:
//
//	primary attachments...,secondary attachments...,perks...,killstreaks...,tactical,lethal
//
// one line per loadout, ids inside a slot separated by a space. Weapon stats
// use one line per weapon: the weapon id followed by seven positional values.
package codec

import (
	"cod-tracker/internal/domain"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	sepLoadouts = "\n"
	sepSlots    = ","
	sepIndexes  = " "

	slotCount = 6

	unknownName = "unknown"
)

// LabelStore persists the label interning tables.
type LabelStore interface {
	All(ctx context.Context, category domain.LabelCategory) ([]domain.LabelEntry, error)
	GetByID(ctx context.Context, category domain.LabelCategory, id int64) (*domain.LabelEntry, error)
	Intern(ctx context.Context, category domain.LabelCategory, name string, label *string, mode domain.GameMode) (*domain.LabelEntry, error)
}

type Codec struct {
	store  LabelStore
	logger zerolog.Logger

	mu      sync.RWMutex
	decoded map[domain.LabelCategory]map[string]domain.Label
	encoded map[domain.LabelCategory]map[string]string
}

func New(store LabelStore, logger zerolog.Logger) *Codec {
	c := &Codec{
		store:   store,
		logger:  logger,
		decoded: make(map[domain.LabelCategory]map[string]domain.Label, len(domain.LabelCategories)),
		encoded: make(map[domain.LabelCategory]map[string]string, len(domain.LabelCategories)),
	}
	for _, category := range domain.LabelCategories {
		c.decoded[category] = map[string]domain.Label{}
		c.encoded[category] = map[string]string{}
	}
	return c
}

// Load warms the in-memory index from the store.
func (c *Codec) Load(ctx context.Context) error {
	total := 0
	for _, category := range domain.LabelCategories {
		entries, err := c.store.All(ctx, category)
		if err != nil {
			return fmt.Errorf("failed to load %s labels: %w", category, err)
		}
		for _, e := range entries {
			c.remember(category, strconv.FormatInt(e.ID, 10), domain.Label{Name: e.Name, Label: e.Label})
		}
		total += len(entries)
	}
	c.logger.Info().Int("labels", total).Msg("label index loaded")
	return nil
}

func (c *Codec) remember(category domain.LabelCategory, index string, label domain.Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoded[category][index] = label
	c.encoded[category][label.Name] = index
}

// IsNoneValue reports whether a provider value means "nothing equipped".
func IsNoneValue(s string) bool {
	switch s {
	case "", "none", "nones", "null", "0":
		return true
	}
	return false
}

// Index returns the id of label in category, interning it on first use.
// Empty items return "".
func (c *Codec) Index(ctx context.Context, category domain.LabelCategory, label domain.Label, mode domain.GameMode) (string, error) {
	if label.Name == "specialty_null" || IsNoneValue(label.Name) {
		return "", nil
	}

	c.mu.RLock()
	index, ok := c.encoded[category][label.Name]
	c.mu.RUnlock()
	if ok {
		return index, nil
	}

	entry, err := c.store.Intern(ctx, category, label.Name, label.Label, mode)
	if err != nil {
		return "", fmt.Errorf("failed to intern %s %q: %w", category, label.Name, err)
	}
	index = strconv.FormatInt(entry.ID, 10)
	c.remember(category, index, domain.Label{Name: entry.Name, Label: entry.Label})
	return index, nil
}

// Label resolves an id back to its label. Ids missing from the index decode
// as "unknown" and are looked up again on the next call.
func (c *Codec) Label(ctx context.Context, category domain.LabelCategory, index string) domain.Label {
	if index == "" {
		return domain.Label{Name: unknownName}
	}

	c.mu.RLock()
	label, ok := c.decoded[category][index]
	c.mu.RUnlock()
	if ok {
		return copyLabel(label)
	}

	id, err := strconv.ParseInt(index, 10, 64)
	if err == nil {
		var entry *domain.LabelEntry
		entry, err = c.store.GetByID(ctx, category, id)
		if err == nil {
			label = domain.Label{Name: entry.Name, Label: entry.Label}
			c.remember(category, index, label)
			return copyLabel(label)
		}
	}

	// not cached, the id may be interned later or the store may recover
	c.logger.Error().Err(err).Str("category", string(category)).Str("index", index).Msg("label not found")
	return domain.Label{Name: unknownName}
}

func copyLabel(l domain.Label) domain.Label {
	if l.Label != nil {
		s := *l.Label
		l.Label = &s
	}
	return l
}

// Resolve interns a map or mode name and returns its stored label.
func (c *Codec) Resolve(ctx context.Context, category domain.LabelCategory, name string, mode domain.GameMode) (domain.Label, error) {
	index, err := c.Index(ctx, category, domain.Label{Name: name}, mode)
	if err != nil {
		return domain.Label{}, err
	}
	return c.Label(ctx, category, index), nil
}

// EncodeLoadout packs one loadout. It returns "" when every slot is empty.
func (c *Codec) EncodeLoadout(ctx context.Context, l domain.Loadout, mode domain.GameMode) (string, error) {
	slots := make([]string, 0, slotCount)

	for _, w := range []*domain.Weapon{l.PrimaryWeapon, l.SecondaryWeapon} {
		var ids []string
		if w != nil {
			index, err := c.Index(ctx, domain.LabelWeapons, w.Label, mode)
			if err != nil {
				return "", err
			}
			if index != "" {
				ids = append(ids, index)
				for _, a := range w.Attachments {
					aIndex, err := c.Index(ctx, domain.LabelAttachments, a, mode)
					if err != nil {
						return "", err
					}
					if aIndex != "" {
						ids = append(ids, aIndex)
					}
				}
			}
		}
		slots = append(slots, strings.Join(ids, sepIndexes))
	}

	perks := make([]domain.Label, 0, len(l.Perks)+len(l.ExtraPerks))
	for _, p := range append(append([]domain.Label(nil), l.Perks...), l.ExtraPerks...) {
		p.Name = strings.TrimPrefix(p.Name, "specialty_")
		perks = append(perks, p)
	}
	for _, group := range []struct {
		category domain.LabelCategory
		items    []domain.Label
	}{
		{domain.LabelPerks, perks},
		{domain.LabelKillstreaks, l.Killstreaks},
	} {
		ids, err := c.indexes(ctx, group.category, group.items, mode)
		if err != nil {
			return "", err
		}
		slots = append(slots, strings.Join(ids, sepIndexes))
	}

	for _, equip := range []struct {
		category domain.LabelCategory
		item     *domain.Label
	}{
		{domain.LabelTactical, l.Tactical},
		{domain.LabelLethal, l.Lethal},
	} {
		index := ""
		if equip.item != nil {
			item := *equip.item
			item.Name = strings.TrimPrefix(item.Name, "equip_")
			var err error
			if index, err = c.Index(ctx, equip.category, item, mode); err != nil {
				return "", err
			}
		}
		slots = append(slots, index)
	}

	encoded := strings.Join(slots, sepSlots)
	if strings.Trim(encoded, sepSlots) == "" {
		return "", nil
	}
	return encoded, nil
}

func (c *Codec) indexes(ctx context.Context, category domain.LabelCategory, items []domain.Label, mode domain.GameMode) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		index, err := c.Index(ctx, category, item, mode)
		if err != nil {
			return nil, err
		}
		if index != "" {
			ids = append(ids, index)
		}
	}
	return ids, nil
}

// EncodeLoadouts packs every life of a match, one line each. It returns ""
// when nothing was equipped in any of them.
func (c *Codec) EncodeLoadouts(ctx context.Context, loadouts []domain.Loadout, mode domain.GameMode) (string, error) {
	lines := make([]string, len(loadouts))
	empty := true
	for i, l := range loadouts {
		encoded, err := c.EncodeLoadout(ctx, l, mode)
		if err != nil {
			return "", err
		}
		if encoded == "" {
			encoded = strings.Repeat(sepSlots, slotCount-1)
		} else {
			empty = false
		}
		lines[i] = encoded
	}
	if empty {
		return "", nil
	}
	return strings.Join(lines, sepLoadouts), nil
}

// DecodeLoadouts is the inverse of EncodeLoadouts. Empty weapon and
// equipment slots decode as nil.
func (c *Codec) DecodeLoadouts(ctx context.Context, encoded string) []domain.Loadout {
	if encoded == "" {
		return nil
	}

	lines := strings.Split(encoded, sepLoadouts)
	loadouts := make([]domain.Loadout, 0, len(lines))
	for _, line := range lines {
		slots := strings.Split(line, sepSlots)
		for len(slots) < slotCount {
			slots = append(slots, "")
		}

		loadouts = append(loadouts, domain.Loadout{
			PrimaryWeapon:   c.decodeWeapon(ctx, slots[0]),
			SecondaryWeapon: c.decodeWeapon(ctx, slots[1]),
			Perks:           c.decodeList(ctx, domain.LabelPerks, slots[2]),
			Killstreaks:     c.decodeList(ctx, domain.LabelKillstreaks, slots[3]),
			Tactical:        c.decodeOne(ctx, domain.LabelTactical, slots[4]),
			Lethal:          c.decodeOne(ctx, domain.LabelLethal, slots[5]),
		})
	}
	return loadouts
}

func (c *Codec) decodeWeapon(ctx context.Context, slot string) *domain.Weapon {
	ids := strings.Fields(slot)
	if len(ids) == 0 {
		return nil
	}
	w := &domain.Weapon{
		Label:       c.Label(ctx, domain.LabelWeapons, ids[0]),
		Attachments: make([]domain.Label, 0, len(ids)-1),
	}
	for _, id := range ids[1:] {
		w.Attachments = append(w.Attachments, c.Label(ctx, domain.LabelAttachments, id))
	}
	return w
}

func (c *Codec) decodeList(ctx context.Context, category domain.LabelCategory, slot string) []domain.Label {
	ids := strings.Fields(slot)
	labels := make([]domain.Label, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, c.Label(ctx, category, id))
	}
	return labels
}

func (c *Codec) decodeOne(ctx context.Context, category domain.LabelCategory, slot string) *domain.Label {
	id := strings.TrimSpace(slot)
	if id == "" {
		return nil
	}
	label := c.Label(ctx, category, id)
	return &label
}

// EncodeWeaponStats packs per-weapon stats, ordered by weapon name.
func (c *Codec) EncodeWeaponStats(ctx context.Context, stats map[string]domain.WeaponStatValues, mode domain.GameMode) (string, error) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		index, err := c.Index(ctx, domain.LabelWeapons, domain.Label{Name: name}, mode)
		if err != nil {
			return "", err
		}
		if index == "" {
			continue
		}
		fields := []string{index}
		for _, v := range stats[name].Values() {
			fields = append(fields, strconv.Itoa(v))
		}
		lines = append(lines, strings.Join(fields, sepIndexes))
	}
	return strings.Join(lines, sepLoadouts), nil
}

func (c *Codec) DecodeWeaponStats(ctx context.Context, encoded string) []domain.WeaponStat {
	if encoded == "" {
		return nil
	}

	lines := strings.Split(encoded, sepLoadouts)
	stats := make([]domain.WeaponStat, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		var values [7]int
		for i, raw := range fields[1:] {
			if i >= len(values) {
				break
			}
			v, err := strconv.Atoi(raw)
			if err != nil {
				c.logger.Error().Str("value", raw).Msg("malformed weapon stat")
			}
			values[i] = v
		}
		stats = append(stats, domain.WeaponStat{
			Label: c.Label(ctx, domain.LabelWeapons, fields[0]),
			Stats: domain.WeaponStatValuesFrom(values),
		})
	}
	return stats
}

// CountWeaponPairs counts "primary + secondary" combinations over a set of
// encoded loadout lists.
func (c *Codec) CountWeaponPairs(ctx context.Context, encoded []string) map[string]int {
	counts := make(map[string]int)
	for _, e := range encoded {
		for _, l := range c.DecodeLoadouts(ctx, e) {
			counts[weaponName(l.PrimaryWeapon)+" + "+weaponName(l.SecondaryWeapon)]++
		}
	}
	return counts
}

func weaponName(w *domain.Weapon) string {
	if w == nil {
		return unknownName
	}
	return w.DisplayName()
}
