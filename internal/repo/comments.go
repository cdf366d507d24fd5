package repo

import (
	"context"
	"database/sql"

	"tapeoutops/internal/domain"
)

const commentColumns = `id,content,author_id,entity_type,entity_id,created_at,updated_at`

func scanComment(row rowScanner) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(&c.ID, &c.Content, &c.AuthorID, &c.EntityType, &c.EntityID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO comments(id,content,author_id,entity_type,entity_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Content, c.AuthorID, c.EntityType, c.EntityID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	return scanComment(r.DB.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id))
}

// ListComments returns an entity's comments oldest first.
func (r Repo) ListComments(ctx context.Context, entityType, entityID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE entity_type=? AND entity_id=? ORDER BY created_at, id`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateComment(ctx context.Context, tx *sql.Tx, id, content, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE comments SET content=?, updated_at=? WHERE id=?`, content, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteComment(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// DeleteCommentsFor removes comments attached to an entity. Comments carry no
// foreign key because entity_id spans several tables.
func (r Repo) DeleteCommentsFor(ctx context.Context, tx *sql.Tx, entityType, entityID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM comments WHERE entity_type=? AND entity_id=?`, entityType, entityID)
	return err
}

// DeleteSpecComments removes comments on a spec and on its lint results.
func (r Repo) DeleteSpecComments(ctx context.Context, tx *sql.Tx, specID string) error {
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM comments WHERE entity_type='lint_result'
AND entity_id IN (SELECT id FROM lint_results WHERE spec_id=?)`, specID); err != nil {
		return err
	}
	return r.DeleteCommentsFor(ctx, tx, "spec", specID)
}
