package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/store"
)

const referenceColumns = `id, user_id, tag, display_name, description, image_url, thumbnail_url,
	category, source_type, source_generation_id, created_ts, updated_ts`

func (d *DB) CreateReference(ctx context.Context, create *store.Reference) (*store.Reference, error) {
	stmt := `INSERT INTO user_reference (id, user_id, tag, tag_key, display_name, description, image_url,
	         thumbnail_url, category, source_type, source_generation_id, created_ts, updated_ts)
	         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.UserID, create.Tag, strings.ToLower(create.Tag), create.DisplayName, create.Description,
		create.ImageURL, create.ThumbnailURL, string(create.Category), string(create.SourceType),
		create.SourceGenerationID, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Wrapf(store.ErrReferenceExists, "@%s", create.Tag)
		}
		return nil, err
	}
	return create, nil
}

func (d *DB) ListReferences(ctx context.Context, find *store.FindReference) ([]*store.Reference, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Tag; v != nil {
		where, args = append(where, "tag_key = "+placeholder(len(args)+1)), append(args, strings.ToLower(*v))
	}
	if v := find.Category; v != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, string(*v))
	}
	query := fmt.Sprintf(
		`SELECT %s FROM user_reference WHERE %s ORDER BY created_ts ASC, id ASC`,
		referenceColumns, strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Reference
	for rows.Next() {
		r := &store.Reference{}
		var category, sourceType string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Tag, &r.DisplayName, &r.Description, &r.ImageURL, &r.ThumbnailURL,
			&category, &sourceType, &r.SourceGenerationID, &r.CreatedTs, &r.UpdatedTs); err != nil {
			return nil, err
		}
		r.Category, r.SourceType = store.ReferenceCategory(category), store.ReferenceSourceType(sourceType)
		list = append(list, r)
	}
	return list, rows.Err()
}

func (d *DB) UpdateReference(ctx context.Context, update *store.UpdateReference) (*store.Reference, error) {
	set, args := []string{}, []any{}
	if v := update.Tag; v != nil {
		set, args = append(set, "tag = "+placeholder(len(args)+1)), append(args, *v)
		set, args = append(set, "tag_key = "+placeholder(len(args)+1)), append(args, strings.ToLower(*v))
	}
	if v := update.DisplayName; v != nil {
		set, args = append(set, "display_name = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Description; v != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Category; v != nil {
		set, args = append(set, "category = "+placeholder(len(args)+1)), append(args, string(*v))
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, update.UpdatedTs)
	args = append(args, update.ID)
	stmt := fmt.Sprintf(`UPDATE user_reference SET %s WHERE id = %s`, strings.Join(set, ", "), placeholder(len(args)))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) && update.Tag != nil {
			return nil, errors.Wrapf(store.ErrReferenceExists, "@%s", *update.Tag)
		}
		return nil, err
	}
	list, err := d.ListReferences(ctx, &store.FindReference{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrReferenceNotFound
	}
	return list[0], nil
}

func (d *DB) DeleteReference(ctx context.Context, delete *store.DeleteReference) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM user_reference WHERE id = $1`, delete.ID)
	return err
}

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
