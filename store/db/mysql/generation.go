package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/store"
)

func (d *DB) CreateGeneration(ctx context.Context, create *store.Generation) (*store.Generation, error) {
	stmt := "INSERT INTO `generation_history` (`generation_id`, `user_id`, `prompt`, `intent`, `model_used`, `success`, " +
		"`output_url`, `error_message`, `execution_time`, `created_ts`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	result, err := d.db.ExecContext(ctx, stmt,
		create.GenerationID, create.UserID, create.Prompt, create.Intent, create.ModelUsed, create.Success,
		create.OutputURL, create.ErrorMessage, create.ExecutionTime, create.CreatedTs,
	)
	if err != nil {
		return nil, err
	}
	rawID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	create.ID = int32(rawID)
	return create, nil
}

func (d *DB) ListGenerations(ctx context.Context, find *store.FindGeneration) ([]*store.Generation, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.GenerationID; v != nil {
		where, args = append(where, "`generation_id` = ?"), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "`user_id` = ?"), append(args, *v)
	}
	if find.SuccessOnly {
		where = append(where, "`success` = TRUE")
	}
	query := fmt.Sprintf(
		"SELECT `id`, `generation_id`, `user_id`, `prompt`, `intent`, `model_used`, `success`, `output_url`, "+
			"`error_message`, `execution_time`, `created_ts` FROM `generation_history` WHERE %s "+
			"ORDER BY `created_ts` DESC, `id` DESC",
		strings.Join(where, " AND "),
	)
	if v := find.Limit; v != nil {
		query, args = query+" LIMIT ?", append(args, *v)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Generation
	for rows.Next() {
		g := &store.Generation{}
		if err := rows.Scan(&g.ID, &g.GenerationID, &g.UserID, &g.Prompt, &g.Intent, &g.ModelUsed, &g.Success,
			&g.OutputURL, &g.ErrorMessage, &g.ExecutionTime, &g.CreatedTs); err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

func (d *DB) DeleteGeneration(ctx context.Context, delete *store.DeleteGeneration) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM `generation_history` WHERE `generation_id` = ?", delete.GenerationID)
	return err
}

func (d *DB) PruneGenerations(ctx context.Context, userID string, keep int) error {
	// MySQL refuses LIMIT inside an IN subquery, so the kept ids go through a derived table.
	stmt := "DELETE FROM `generation_history` WHERE `user_id` = ? AND `id` NOT IN (" +
		"SELECT `id` FROM (SELECT `id` FROM `generation_history` WHERE `user_id` = ? " +
		"ORDER BY `created_ts` DESC, `id` DESC LIMIT ?) AS `keep`)"
	_, err := d.db.ExecContext(ctx, stmt, userID, userID, keep)
	return err
}

func (d *DB) UpsertGenerationSession(ctx context.Context, upsert *store.GenerationSession) (*store.GenerationSession, error) {
	stmt := "INSERT INTO `generation_session` (`session_id`, `user_id`, `working_image_url`, `updated_ts`) " +
		"VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE `user_id` = VALUES(`user_id`), " +
		"`working_image_url` = VALUES(`working_image_url`), `updated_ts` = VALUES(`updated_ts`)"
	if _, err := d.db.ExecContext(ctx, stmt, upsert.SessionID, upsert.UserID, upsert.WorkingImageURL, upsert.UpdatedTs); err != nil {
		return nil, err
	}
	return upsert, nil
}

func (d *DB) GetGenerationSession(ctx context.Context, find *store.FindGenerationSession) (*store.GenerationSession, error) {
	s := &store.GenerationSession{}
	err := d.db.QueryRowContext(ctx,
		"SELECT `session_id`, `user_id`, `working_image_url`, `updated_ts` FROM `generation_session` WHERE `session_id` = ?",
		find.SessionID,
	).Scan(&s.SessionID, &s.UserID, &s.WorkingImageURL, &s.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *DB) DeleteGenerationSession(ctx context.Context, sessionID string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM `generation_session` WHERE `session_id` = ?", sessionID)
	return err
}
