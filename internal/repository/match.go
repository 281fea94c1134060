package repository

import (
	"cod-tracker/internal/domain"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const mainColumns = "match_id, uno, username, clantag, time, map, mode, team, result, duration, time_played, " +
	"kills, deaths, kd_ratio, damage_done, damage_taken, headshots, longest_streak, assists, score, " +
	"score_per_minute, total_xp, team1_score, team2_score, player_count, team_count, loadout, weapon_stats, extra"

const basicColumns = "match_id, uno, username, clantag, time, map, mode, team, result, duration, time_played, " +
	"kills, deaths, kd_ratio, damage_done, headshots, longest_streak, assists, score, score_per_minute, total_xp"

// MatchRef is a match id with its start time, enough to pick a partition.
type MatchRef struct {
	MatchID string
	Time    time.Time
}

type MatchRepository struct {
	db         *sql.DB
	partitions *Partitions
	logger     zerolog.Logger
}

func NewMatchRepository(sqlDB *sql.DB, partitions *Partitions, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{db: sqlDB, partitions: partitions, logger: logger}
}

func (r *MatchRepository) Partitions() *Partitions {
	return r.partitions
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mainValues(m *domain.MatchRecord) ([]any, error) {
	var extra any
	if len(m.Extra) > 0 {
		raw, err := json.Marshal(m.Extra)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra stats: %w", err)
		}
		extra = string(raw)
	}
	return []any{
		m.MatchID, m.Uno, nullString(m.Username), nullString(m.Clantag), m.Time.Unix(),
		nullString(m.Map), nullString(m.Mode), nullString(m.Team), m.Result, m.Duration, m.TimePlayed,
		m.Kills, m.Deaths, m.KdRatio, m.DamageDone, m.DamageTaken, m.Headshots, m.LongestStreak,
		m.Assists, m.Score, m.ScorePerMinute, m.TotalXp, m.Team1Score, m.Team2Score, m.PlayerCount,
		m.TeamCount, nullString(m.Loadout), nullString(m.WeaponStats), extra,
	}, nil
}

func basicValues(m *domain.MatchRecord) []any {
	return []any{
		m.MatchID, m.Uno, nullString(m.Username), nullString(m.Clantag), m.Time.Unix(),
		nullString(m.Map), nullString(m.Mode), nullString(m.Team), m.Result, m.Duration, m.TimePlayed,
		m.Kills, m.Deaths, m.KdRatio, m.DamageDone, m.Headshots, m.LongestStreak, m.Assists,
		m.Score, m.ScorePerMinute, m.TotalXp,
	}
}

func insertRecords(ctx context.Context, tx *sql.Tx, table string, tier Tier, records []domain.MatchRecord) error {
	columns, count := mainColumns, 29
	if tier == TierBasic {
		columns, count = basicColumns, 21
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, placeholders(count)))
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for i := range records {
		var values []any
		if tier == TierBasic {
			values = basicValues(&records[i])
		} else {
			values, err = mainValues(&records[i])
			if err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("failed to insert match %s into %s: %w", records[i].MatchID, table, err)
		}
	}
	return nil
}

// InsertPage writes one page of rolling matches in a single transaction.
func (r *MatchRepository) InsertPage(ctx context.Context, mode domain.GameMode, records []domain.MatchRecord) error {
	if len(records) == 0 {
		return nil
	}
	table, err := MatchesTable(mode)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRecords(ctx, tx, table, TierMain, records); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertBasic loads rows into the reduced-column tier of a partition.
func (r *MatchRepository) InsertBasic(ctx context.Context, part Partition, records []domain.MatchRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRecords(ctx, tx, part.Table(TierBasic), TierBasic, records); err != nil {
		return err
	}
	return tx.Commit()
}

// Promote writes every participant row of a match into the MAIN tier and
// drops the match from the BASIC tier of the same partition. It returns the
// number of BASIC rows removed.
func (r *MatchRepository) Promote(ctx context.Context, part Partition, matchID string, records []domain.MatchRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRecords(ctx, tx, part.Table(TierMain), TierMain, records); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE match_id = ?", part.Table(TierBasic)), matchID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s from %s: %w", matchID, part.Table(TierBasic), err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit promotion of %s: %w", matchID, err)
	}
	return deleted, nil
}

// KnownMatchIDs returns the match ids present in either tier of part.
func (r *MatchRepository) KnownMatchIDs(ctx context.Context, part Partition) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT match_id FROM %s UNION SELECT match_id FROM %s",
		part.Table(TierMain), part.Table(TierBasic)))
	if err != nil {
		return nil, fmt.Errorf("failed to read match ids of %s: %w", part, err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan match id: %w", err)
		}
		known[id] = true
	}
	return known, rows.Err()
}

func (r *MatchRepository) CountByMatch(ctx context.Context, table, matchID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE match_id = ?", table), matchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s in %s: %w", matchID, table, err)
	}
	return n, nil
}

func (r *MatchRepository) InMain(ctx context.Context, part Partition, matchID string) (bool, error) {
	n, err := r.CountByMatch(ctx, part.Table(TierMain), matchID)
	return n > 0, err
}

// InAnyMain reports whether matchID was promoted in any partition of mode.
func (r *MatchRepository) InAnyMain(ctx context.Context, mode domain.GameMode, matchID string) (bool, error) {
	for _, part := range r.partitions.For(mode) {
		found, err := r.InMain(ctx, part, matchID)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// BoundaryTime returns the newest (or oldest) stored start time of uno in
// mode, or 0 when the player has no rows.
func (r *MatchRepository) BoundaryTime(ctx context.Context, mode domain.GameMode, uno string, newest bool) (int64, error) {
	table, err := MatchesTable(mode)
	if err != nil {
		return 0, err
	}
	agg := "MIN"
	if newest {
		agg = "MAX"
	}
	var t sql.NullInt64
	err = r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s(time) FROM %s WHERE uno = ?", agg, table), uno).Scan(&t)
	if err != nil {
		return 0, fmt.Errorf("failed to read boundary time of %s: %w", uno, err)
	}
	return t.Int64, nil
}

// PlayerMatchRefs lists the distinct matches of uno in the rolling table.
func (r *MatchRepository) PlayerMatchRefs(ctx context.Context, mode domain.GameMode, unos ...string) ([]MatchRef, error) {
	table, err := MatchesTable(mode)
	if err != nil {
		return nil, err
	}
	if len(unos) == 0 {
		return nil, nil
	}

	args := make([]any, len(unos))
	for i, uno := range unos {
		args[i] = uno
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT match_id, MIN(time) FROM %s WHERE uno IN (%s) GROUP BY match_id ORDER BY MIN(time)",
		table, placeholders(len(unos))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list match ids: %w", err)
	}
	defer rows.Close()

	var refs []MatchRef
	for rows.Next() {
		var (
			ref MatchRef
			ts  int64
		)
		if err := rows.Scan(&ref.MatchID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan match id: %w", err)
		}
		ref.Time = time.Unix(ts, 0).UTC()
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DistinctMatches counts the distinct match ids of uno in the rolling table.
func (r *MatchRepository) DistinctMatches(ctx context.Context, mode domain.GameMode, uno string) (int, error) {
	table, err := MatchesTable(mode)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT match_id) FROM %s WHERE uno = ?", table), uno).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count matches of %s: %w", uno, err)
	}
	return n, nil
}

// PromotedMatches counts how many of uno's rolling matches are present in
// the MAIN tier of any partition of mode.
func (r *MatchRepository) PromotedMatches(ctx context.Context, mode domain.GameMode, uno string) (int, error) {
	table, err := MatchesTable(mode)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, part := range r.partitions.For(mode) {
		var n int
		err := r.db.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(DISTINCT match_id) FROM %s WHERE match_id IN (SELECT match_id FROM %s WHERE uno = ?)",
			part.Table(TierMain), table), uno).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count promoted matches in %s: %w", part, err)
		}
		total += n
	}
	return total, nil
}

func scanRecord(rows *sql.Rows) (domain.MatchRecord, error) {
	var (
		m                                 domain.MatchRecord
		ts                                int64
		username, clantag, mapName, mode  sql.NullString
		team, loadout, weaponStats, extra sql.NullString
	)
	err := rows.Scan(&m.ID, &m.MatchID, &m.Uno, &username, &clantag, &ts, &mapName, &mode, &team,
		&m.Result, &m.Duration, &m.TimePlayed, &m.Kills, &m.Deaths, &m.KdRatio, &m.DamageDone,
		&m.DamageTaken, &m.Headshots, &m.LongestStreak, &m.Assists, &m.Score, &m.ScorePerMinute,
		&m.TotalXp, &m.Team1Score, &m.Team2Score, &m.PlayerCount, &m.TeamCount, &loadout,
		&weaponStats, &extra)
	if err != nil {
		return m, err
	}
	m.Time = time.Unix(ts, 0).UTC()
	m.Username, m.Clantag, m.Map, m.Mode = username.String, clantag.String, mapName.String, mode.String
	m.Team, m.Loadout, m.WeaponStats = team.String, loadout.String, weaponStats.String
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &m.Extra); err != nil {
			return m, fmt.Errorf("failed to decode extra stats of %d: %w", m.ID, err)
		}
	}
	return m, nil
}

func (r *MatchRepository) queryRecords(ctx context.Context, query string, args ...any) ([]domain.MatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var records []domain.MatchRecord
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		records = append(records, m)
	}
	return records, rows.Err()
}

// Recent returns the newest rolling rows of uno.
func (r *MatchRepository) Recent(ctx context.Context, mode domain.GameMode, uno string, limit, offset int) ([]domain.MatchRecord, error) {
	table, err := MatchesTable(mode)
	if err != nil {
		return nil, err
	}
	return r.queryRecords(ctx, fmt.Sprintf(
		"SELECT id, %s FROM %s WHERE uno = ? ORDER BY time DESC, id DESC LIMIT ? OFFSET ?", mainColumns, table),
		uno, limit, offset)
}

// MainRows returns the MAIN tier participants of one match.
func (r *MatchRepository) MainRows(ctx context.Context, part Partition, matchID string) ([]domain.MatchRecord, error) {
	return r.queryRecords(ctx, fmt.Sprintf(
		"SELECT id, %s FROM %s WHERE match_id = ? ORDER BY id", mainColumns, part.Table(TierMain)), matchID)
}

// Times returns start times of uno's rows; an empty uno scans every player.
func (r *MatchRepository) Times(ctx context.Context, mode domain.GameMode, unos []string) ([]time.Time, error) {
	table, err := MatchesTable(mode)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT time FROM %s", table)
	args := make([]any, len(unos))
	for i, uno := range unos {
		args[i] = uno
	}
	if len(unos) > 0 {
		query += fmt.Sprintf(" WHERE uno IN (%s)", placeholders(len(unos)))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read match times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan match time: %w", err)
		}
		times = append(times, time.Unix(ts, 0).UTC())
	}
	return times, rows.Err()
}

// Loadouts returns the non-empty encoded loadouts of the given players.
func (r *MatchRepository) Loadouts(ctx context.Context, mode domain.GameMode, unos []string) ([]string, error) {
	table, err := MatchesTable(mode)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT loadout FROM %s WHERE loadout IS NOT NULL AND loadout != ''", table)
	args := make([]any, len(unos))
	for i, uno := range unos {
		args[i] = uno
	}
	if len(unos) > 0 {
		query += fmt.Sprintf(" AND uno IN (%s)", placeholders(len(unos)))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read loadouts: %w", err)
	}
	defer rows.Close()

	var loadouts []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("failed to scan loadout: %w", err)
		}
		loadouts = append(loadouts, l)
	}
	return loadouts, rows.Err()
}

// CoPlayers counts, per other player, the matches of uno they appear in
// within one MAIN partition.
func (r *MatchRepository) CoPlayers(ctx context.Context, part Partition, uno string) ([]domain.PlayWith, error) {
	table, err := MatchesTable(part.GameMode)
	if err != nil {
		return nil, err
	}
	main := part.Table(TierMain)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT uno, COALESCE(MAX(username), ''), COUNT(DISTINCT match_id)
		FROM %s
		WHERE match_id IN (SELECT match_id FROM %s WHERE uno = ?) AND uno != ?
		GROUP BY uno`, main, table), uno, uno)
	if err != nil {
		return nil, fmt.Errorf("failed to count co-players in %s: %w", part, err)
	}
	defer rows.Close()

	var result []domain.PlayWith
	for rows.Next() {
		var pw domain.PlayWith
		if err := rows.Scan(&pw.Uno, &pw.Username, &pw.Count); err != nil {
			return nil, fmt.Errorf("failed to scan co-player: %w", err)
		}
		result = append(result, pw)
	}
	return result, rows.Err()
}

// DeleteDoubles keeps the first row of every (match_id, uno) pair in table
// and deletes the rest. A non-empty uno restricts the sweep to one player.
func (r *MatchRepository) DeleteDoubles(ctx context.Context, table, uno string) (int64, error) {
	query := fmt.Sprintf(
		"DELETE FROM %[1]s WHERE id NOT IN (SELECT MIN(id) FROM %[1]s GROUP BY match_id, uno)", table)
	var args []any
	if uno != "" {
		query += " AND uno = ?"
		args = append(args, uno)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete doubles in %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
