package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tapeoutops/internal/domain"
)

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.ChecklistTemplate) error {
	if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO checklist_templates(id,name,created_by,created_at) VALUES (?,?,?,?)`,
		t.ID, t.Name, t.CreatedBy, t.CreatedAt); err != nil {
		return err
	}
	for i, it := range t.Items {
		if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO checklist_template_items(id,template_id,title,description,order_index,seq) VALUES (?,?,?,?,?,?)`,
			it.ID, t.ID, it.Title, nullable(it.Description), it.Order, i); err != nil {
			return fmt.Errorf("insert template item %d: %w", i, err)
		}
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, tx *sql.Tx, id string) (domain.ChecklistTemplate, error) {
	var t domain.ChecklistTemplate
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,created_by,created_at FROM checklist_templates WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Items, err = r.templateItems(ctx, tx, id)
	return t, err
}

// templateItems orders by the caller-supplied order, then by insertion.
func (r Repo) templateItems(ctx context.Context, tx *sql.Tx, templateID string) ([]domain.ChecklistTemplateItem, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,template_id,title,COALESCE(description,''),order_index FROM checklist_template_items
WHERE template_id=? ORDER BY order_index, seq`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []domain.ChecklistTemplateItem{}
	for rows.Next() {
		var it domain.ChecklistTemplateItem
		if err := rows.Scan(&it.ID, &it.TemplateID, &it.Title, &it.Description, &it.Order); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.ChecklistTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_by,created_at FROM checklist_templates ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	var res []domain.ChecklistTemplate
	for rows.Next() {
		var t domain.ChecklistTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		items, err := r.templateItems(ctx, nil, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}
	return res, nil
}

func (r Repo) DeleteTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM checklist_templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

const checklistColumns = `id,template_id,name,linked_spec_id,created_by,status,created_at,updated_at`

func scanChecklist(row rowScanner) (domain.ActiveChecklist, error) {
	var (
		c      domain.ActiveChecklist
		linked sql.NullString
	)
	err := row.Scan(&c.ID, &c.TemplateID, &c.Name, &linked, &c.CreatedBy, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.LinkedSpecID = stringPtr(linked)
	return c, err
}

func (r Repo) InsertChecklist(ctx context.Context, tx *sql.Tx, c domain.ActiveChecklist) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO active_checklists(id,template_id,name,linked_spec_id,created_by,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.TemplateID, c.Name, nullableStringPtr(c.LinkedSpecID), c.CreatedBy, c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) InsertChecklistItem(ctx context.Context, tx *sql.Tx, seq int, it domain.ActiveChecklistItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO active_checklist_items(id,checklist_id,template_item_id,title,description,order_index,seq,status,comment,evidence_file_path,assigned_to_user_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ChecklistID, it.TemplateItemID, it.Title, nullable(it.Description), it.Order, seq, it.Status,
		nullableStringPtr(it.Comment), nullableStringPtr(it.EvidenceFilePath), nullableStringPtr(it.AssignedToUserID), it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetChecklist(ctx context.Context, id string) (domain.ActiveChecklist, error) {
	return scanChecklist(r.DB.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM active_checklists WHERE id=?`, id))
}

// ListChecklists filters by status and linked spec when set.
func (r Repo) ListChecklists(ctx context.Context, status, linkedSpecID string, page Page) ([]domain.ActiveChecklist, error) {
	var (
		clauses []string
		args    []any
	)
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	if linkedSpecID != "" {
		clauses = append(clauses, "linked_spec_id=?")
		args = append(args, linkedSpecID)
	}
	clauses, args = page.apply(clauses, args, "")
	limit, args := page.limitClause(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checklistColumns+` FROM active_checklists`+where(clauses)+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActiveChecklist
	for rows.Next() {
		c, err := scanChecklist(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateChecklistStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE active_checklists SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteChecklist(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM active_checklists WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

const itemColumns = `id,checklist_id,template_item_id,title,COALESCE(description,''),order_index,status,comment,evidence_file_path,assigned_to_user_id,created_at,updated_at`

func scanItem(row rowScanner) (domain.ActiveChecklistItem, error) {
	var (
		it                          domain.ActiveChecklistItem
		comment, evidence, assigned sql.NullString
	)
	err := row.Scan(&it.ID, &it.ChecklistID, &it.TemplateItemID, &it.Title, &it.Description, &it.Order, &it.Status,
		&comment, &evidence, &assigned, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	it.Comment = stringPtr(comment)
	it.EvidenceFilePath = stringPtr(evidence)
	it.AssignedToUserID = stringPtr(assigned)
	return it, err
}

func (r Repo) GetChecklistItem(ctx context.Context, id string) (domain.ActiveChecklistItem, error) {
	return scanItem(r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM active_checklist_items WHERE id=?`, id))
}

func (r Repo) listItems(ctx context.Context, clause string, args ...any) ([]domain.ActiveChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM active_checklist_items WHERE `+clause+` ORDER BY order_index, seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []domain.ActiveChecklistItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListChecklistItems returns a checklist's items in template order.
func (r Repo) ListChecklistItems(ctx context.Context, checklistID string) ([]domain.ActiveChecklistItem, error) {
	return r.listItems(ctx, "checklist_id=?", checklistID)
}

func (r Repo) ListItemsAssignedTo(ctx context.Context, userID string) ([]domain.ActiveChecklistItem, error) {
	return r.listItems(ctx, "assigned_to_user_id=?", userID)
}

func (r Repo) ListAssignedItems(ctx context.Context, checklistID string) ([]domain.ActiveChecklistItem, error) {
	return r.listItems(ctx, "checklist_id=? AND assigned_to_user_id IS NOT NULL", checklistID)
}

// CountChecklistItems returns total and done item counts.
func (r Repo) CountChecklistItems(ctx context.Context, checklistID string) (total, done int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status='done' THEN 1 ELSE 0 END),0)
FROM active_checklist_items WHERE checklist_id=?`, checklistID).Scan(&total, &done)
	return total, done, err
}

// ItemUpdate lists optional item columns. For pointer-to-pointer fields a
// non-nil outer pointer with a nil inner pointer clears the column.
type ItemUpdate struct {
	Status           *string
	Comment          **string
	EvidenceFilePath **string
	AssignedToUserID **string
	UpdatedAt        string
}

func (r Repo) UpdateChecklistItem(ctx context.Context, tx *sql.Tx, id string, upd ItemUpdate) error {
	fields := []string{"updated_at=?"}
	args := []any{upd.UpdatedAt}
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.Comment != nil {
		fields = append(fields, "comment=?")
		args = append(args, nullableStringPtr(*upd.Comment))
	}
	if upd.EvidenceFilePath != nil {
		fields = append(fields, "evidence_file_path=?")
		args = append(args, nullableStringPtr(*upd.EvidenceFilePath))
	}
	if upd.AssignedToUserID != nil {
		fields = append(fields, "assigned_to_user_id=?")
		args = append(args, nullableStringPtr(*upd.AssignedToUserID))
	}
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE active_checklist_items SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// EvidencePaths returns every evidence key referenced by a checklist item,
// optionally restricted to one checklist.
func (r Repo) EvidencePaths(ctx context.Context, checklistID string) ([]string, error) {
	clauses := []string{"evidence_file_path IS NOT NULL"}
	var args []any
	if checklistID != "" {
		clauses = append(clauses, "checklist_id=?")
		args = append(args, checklistID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT evidence_file_path FROM active_checklist_items`+where(clauses), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
