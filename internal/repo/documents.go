package repo

import (
	"context"
	"database/sql"
	"strings"

	"solaire/internal/domain"
)

const documentCols = `id,project_id,stage,COALESCE(category,'') AS category,filename,url,COALESCE(mime_type,'') AS mime_type,COALESCE(size,0) AS size,created_at`

func scanDocument(row interface{ Scan(...any) error }) (domain.Document, error) {
	var d domain.Document
	err := row.Scan(&d.ID, &d.ProjectID, &d.Stage, &d.Category, &d.Filename, &d.URL, &d.MimeType, &d.Size, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,project_id,stage,category,filename,url,mime_type,size,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Stage, nullable(d.Category), d.Filename, d.URL, nullable(d.MimeType), d.Size, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id))
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id))
}

func (r Repo) ListDocuments(ctx context.Context, projectID, stage string) ([]domain.Document, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, stage)
	}
	query := `SELECT ` + documentCols + ` FROM documents WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r Repo) DeleteDocumentTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
