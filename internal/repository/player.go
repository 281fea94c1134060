package repository

import (
	"cod-tracker/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{db: sqlDB, logger: logger}
}

const playerColumns = "id, uno, acti, battle, username, clantag, group_name, games, games_stats, chart, most_play_with, loadout, time"

func scanPlayer(scan func(...any) error) (*domain.Player, error) {
	var (
		p                            domain.Player
		acti, battle, group          sql.NullString
		username, clantag            string
		games, gamesStats            string
		chart, mostPlayWith, loadout sql.NullString
	)
	if err := scan(&p.ID, &p.Uno, &acti, &battle, &username, &clantag, &group, &games, &gamesStats,
		&chart, &mostPlayWith, &loadout, &p.Time); err != nil {
		return nil, err
	}
	p.Acti, p.Battle, p.Group = acti.String, battle.String, group.String

	if err := json.Unmarshal([]byte(username), &p.Username); err != nil {
		return nil, fmt.Errorf("failed to decode username of %s: %w", p.Uno, err)
	}
	if err := json.Unmarshal([]byte(clantag), &p.Clantag); err != nil {
		return nil, fmt.Errorf("failed to decode clantag of %s: %w", p.Uno, err)
	}
	p.Games = domain.NewGames()
	if err := json.Unmarshal([]byte(games), &p.Games); err != nil {
		return nil, fmt.Errorf("failed to decode games of %s: %w", p.Uno, err)
	}
	if err := json.Unmarshal([]byte(gamesStats), &p.GamesStats); err != nil {
		return nil, fmt.Errorf("failed to decode games stats of %s: %w", p.Uno, err)
	}
	if chart.Valid {
		if err := json.Unmarshal([]byte(chart.String), &p.Chart); err != nil {
			return nil, fmt.Errorf("failed to decode chart of %s: %w", p.Uno, err)
		}
	}
	if mostPlayWith.Valid {
		if err := json.Unmarshal([]byte(mostPlayWith.String), &p.MostPlayWith); err != nil {
			return nil, fmt.Errorf("failed to decode most play with of %s: %w", p.Uno, err)
		}
	}
	if loadout.Valid {
		if err := json.Unmarshal([]byte(loadout.String), &p.Loadout); err != nil {
			return nil, fmt.Errorf("failed to decode loadout of %s: %w", p.Uno, err)
		}
	}
	return &p, nil
}

func (r *PlayerRepository) Get(ctx context.Context, uno string) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM players WHERE uno = ?", playerColumns), uno)
	p, err := scanPlayer(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", uno, err)
	}
	return p, nil
}

func (r *PlayerRepository) list(ctx context.Context, where string, args ...any) ([]domain.Player, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM players %s ORDER BY id", playerColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (r *PlayerRepository) List(ctx context.Context) ([]domain.Player, error) {
	return r.list(ctx, "")
}

func (r *PlayerRepository) ListByGroup(ctx context.Context, group string) ([]domain.Player, error) {
	return r.list(ctx, "WHERE group_name = ?", group)
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *PlayerRepository) Create(ctx context.Context, p *domain.Player) error {
	if p.Games == nil {
		p.Games = domain.NewGames()
	}
	if p.Username == nil {
		p.Username = []string{}
	}
	if p.Clantag == nil {
		p.Clantag = []string{}
	}
	if p.GamesStats == nil {
		p.GamesStats = map[string]*domain.GameStats{}
	}

	username, err := encodeJSON(p.Username)
	if err != nil {
		return fmt.Errorf("failed to encode username: %w", err)
	}
	clantag, err := encodeJSON(p.Clantag)
	if err != nil {
		return fmt.Errorf("failed to encode clantag: %w", err)
	}
	games, err := encodeJSON(p.Games)
	if err != nil {
		return fmt.Errorf("failed to encode games: %w", err)
	}
	gamesStats, err := encodeJSON(p.GamesStats)
	if err != nil {
		return fmt.Errorf("failed to encode games stats: %w", err)
	}
	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO players (uno, acti, battle, username, clantag, group_name, games, games_stats, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Uno, nullString(p.Acti), nullString(p.Battle), username, clantag, nullString(p.Group),
		games, gamesStats, p.Time)
	if err != nil {
		return fmt.Errorf("failed to create player %s: %w", p.Uno, err)
	}
	p.ID, _ = res.LastInsertId()

	r.logger.Info().Str("uno", p.Uno).Int64("id", p.ID).Msg("player created")
	return nil
}

// updatable columns of players, each with its encoder
var playerFields = map[string]func(any) (any, error){
	"games":          encodeAny,
	"games_stats":    encodeAny,
	"chart":          encodeAny,
	"most_play_with": encodeAny,
	"loadout":        encodeAny,
	"username":       encodeAny,
	"clantag":        encodeAny,
	"group_name":     plainString,
	"acti":           plainString,
	"battle":         plainString,
}

func encodeAny(v any) (any, error) {
	return encodeJSON(v)
}

func plainString(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	return nullString(s), nil
}

// Update sets the given columns of one player. Only columns listed in
// playerFields are accepted.
func (r *PlayerRepository) Update(ctx context.Context, uno string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	set := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for name, value := range fields {
		encode, ok := playerFields[name]
		if !ok {
			return fmt.Errorf("player field %q is not updatable", name)
		}
		encoded, err := encode(value)
		if err != nil {
			return fmt.Errorf("failed to encode player field %s: %w", name, err)
		}
		set = append(set, name+" = ?")
		args = append(args, encoded)
	}
	args = append(args, uno)

	query := "UPDATE players SET " + strings.Join(set, ", ") + " WHERE uno = ?"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update player %s: %w", uno, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a player together with its rolling match rows and logs.
func (r *PlayerRepository) Delete(ctx context.Context, uno string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, mode := range domain.GameModes {
		table, _ := MatchesTable(mode)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE uno = ?", table), uno); err != nil {
			return fmt.Errorf("failed to delete %s rows of %s: %w", table, uno, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM logs WHERE target = ?", uno); err != nil {
		return fmt.Errorf("failed to delete logs of %s: %w", uno, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM players WHERE uno = ?", uno)
	if err != nil {
		return fmt.Errorf("failed to delete player %s: %w", uno, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}
