package repository

import (
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("not found")

type LabelRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLabelRepository(sqlDB *sql.DB, logger zerolog.Logger) *LabelRepository {
	return &LabelRepository{db: sqlDB, logger: logger}
}

func labelTable(category domain.LabelCategory) (string, error) {
	if !category.Valid() {
		return "", fmt.Errorf("unknown label category %q", category)
	}
	return "label_" + string(category), nil
}

func (r *LabelRepository) All(ctx context.Context, category domain.LabelCategory) ([]domain.LabelEntry, error) {
	table, err := labelTable(category)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT id, name, label, game_mode FROM %s ORDER BY id", table))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s labels: %w", category, err)
	}
	defer rows.Close()

	var entries []domain.LabelEntry
	for rows.Next() {
		var (
			e        domain.LabelEntry
			label    sql.NullString
			gameMode sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Name, &label, &gameMode); err != nil {
			return nil, fmt.Errorf("failed to scan %s label: %w", category, err)
		}
		e.Category = category
		if label.Valid {
			e.Label = &label.String
		}
		e.GameMode = domain.GameMode(gameMode.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *LabelRepository) GetByID(ctx context.Context, category domain.LabelCategory, id int64) (*domain.LabelEntry, error) {
	table, err := labelTable(category)
	if err != nil {
		return nil, err
	}

	e := domain.LabelEntry{ID: id, Category: category}
	var label, mode sql.NullString
	err = r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT name, label, game_mode FROM %s WHERE id = ?", table), id,
	).Scan(&e.Name, &label, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s label %d: %w", category, id, err)
	}
	if label.Valid {
		e.Label = &label.String
	}
	e.GameMode = domain.GameMode(mode.String)
	return &e, nil
}

// Intern returns the id of name, creating the entry when it does not exist.
func (r *LabelRepository) Intern(ctx context.Context, category domain.LabelCategory, name string, label *string, mode domain.GameMode) (*domain.LabelEntry, error) {
	table, err := labelTable(category)
	if err != nil {
		return nil, err
	}

	var labelValue any
	if label != nil && *label != "" {
		l := *label
		if len(l) > constants.LabelMaxLength {
			l = l[:constants.LabelMaxLength]
		}
		labelValue = l
	}

	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (name, label, game_mode) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING", table),
		name, labelValue, string(mode),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s label %s: %w", category, name, err)
	}

	e := domain.LabelEntry{Category: category, Name: name, GameMode: mode}
	var stored sql.NullString
	err = r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, label FROM %s WHERE name = ?", table), name,
	).Scan(&e.ID, &stored)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s label %s: %w", category, name, err)
	}
	if stored.Valid {
		e.Label = &stored.String
	}
	return &e, nil
}

func (r *LabelRepository) UpdateLabel(ctx context.Context, category domain.LabelCategory, name string, label *string) error {
	table, err := labelTable(category)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET label = ? WHERE name = ?", table), label, name)
	if err != nil {
		return fmt.Errorf("failed to update %s label %s: %w", category, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the entry; AUTOINCREMENT keeps its id from being handed out again.
func (r *LabelRepository) Delete(ctx context.Context, category domain.LabelCategory, name string) error {
	table, err := labelTable(category)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = ?", table), name)
	if err != nil {
		return fmt.Errorf("failed to delete %s label %s: %w", category, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *LabelRepository) Counts(ctx context.Context) (map[domain.LabelCategory]int, error) {
	counts := make(map[domain.LabelCategory]int, len(domain.LabelCategories))
	for _, category := range domain.LabelCategories {
		table, _ := labelTable(category)
		var n int
		if err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s labels: %w", category, err)
		}
		counts[category] = n
	}
	return counts, nil
}
