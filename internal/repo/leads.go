package repo

import (
	"context"
	"database/sql"
	"strings"

	"solaire/internal/domain"
)

const leadCols = `id,COALESCE(company,'') AS company,contact_name,COALESCE(email,'') AS email,COALESCE(phone,'') AS phone,pack,status,client_id,converted_at,COALESCE(notes,'') AS notes,created_at,updated_at`

type leadScanner interface {
	Scan(dest ...any) error
}

func scanLead(row leadScanner) (domain.Lead, error) {
	var l domain.Lead
	var clientID, convertedAt sql.NullString
	err := row.Scan(&l.ID, &l.Company, &l.ContactName, &l.Email, &l.Phone, &l.Pack, &l.Status, &clientID, &convertedAt, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	l.ClientID = strPtr(clientID)
	l.ConvertedAt = strPtr(convertedAt)
	return l, err
}

func (r Repo) InsertLead(ctx context.Context, l domain.Lead) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO leads(id,company,contact_name,email,phone,pack,status,client_id,converted_at,notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, nullable(l.Company), l.ContactName, nullable(l.Email), nullable(l.Phone), l.Pack, l.Status, nullablePtr(l.ClientID), nullablePtr(l.ConvertedAt), nullable(l.Notes), l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, `SELECT `+leadCols+` FROM leads WHERE id=?`, id))
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	return scanLead(tx.QueryRowContext(ctx, `SELECT `+leadCols+` FROM leads WHERE id=?`, id))
}

type LeadFilters struct {
	Status          string
	Pack            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Pack != "" {
		clauses = append(clauses, "pack=?")
		args = append(args, f.Pack)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + leadCols + ` FROM leads ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leads []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r Repo) UpdateLead(ctx context.Context, l domain.Lead) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE leads SET company=?,contact_name=?,email=?,phone=?,pack=?,status=?,client_id=?,converted_at=?,notes=?,updated_at=? WHERE id=?`,
		nullable(l.Company), l.ContactName, nullable(l.Email), nullable(l.Phone), l.Pack, l.Status, nullablePtr(l.ClientID), nullablePtr(l.ConvertedAt), nullable(l.Notes), l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r Repo) UpdateLeadTx(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET company=?,contact_name=?,email=?,phone=?,pack=?,status=?,client_id=?,converted_at=?,notes=?,updated_at=? WHERE id=?`,
		nullable(l.Company), l.ContactName, nullable(l.Email), nullable(l.Phone), l.Pack, l.Status, nullablePtr(l.ClientID), nullablePtr(l.ConvertedAt), nullable(l.Notes), l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r Repo) DeleteLead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM leads WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
