package repo

import (
	"context"
	"database/sql"

	"draftclinic/internal/domain"
)

const documentColumns = `id,request_id,filename,original_filename,file_type,file_size,document_type,description,uploaded_by,created_at`

func scanDocument(s scanner) (domain.Document, error) {
	var d domain.Document
	var fileType, desc sql.NullString
	var typ string
	err := s.Scan(&d.ID, &d.RequestID, &d.Filename, &d.OriginalFilename, &fileType, &d.FileSize, &typ, &desc, &d.UploadedBy, &d.CreatedAt)
	if err != nil {
		return d, notFound(err)
	}
	d.FileType = fileType.String
	d.Description = desc.String
	d.Type = domain.DocumentType(typ)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO documents(`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.RequestID, d.Filename, d.OriginalFilename, nullable(d.FileType), d.FileSize, string(d.Type),
		nullable(d.Description), d.UploadedBy, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return r.GetDocumentTx(ctx, nil, id)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(r.q(tx).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

// ListDocuments returns a request's documents, optionally narrowed to one type.
func (r Repo) ListDocuments(ctx context.Context, requestID string, typ domain.DocumentType) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE request_id=?`
	args := []any{requestID}
	if typ != "" {
		query += ` AND document_type=?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
