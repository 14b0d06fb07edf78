package repo

import (
	"context"
	"database/sql"
	"strings"

	"draftclinic/internal/domain"
)

const actorColumns = `id,email,password_hash,first_name,last_name,phone,institution,academic_level,field_of_study,role,active,created_at,updated_at`

func scanActor(s scanner) (domain.Actor, error) {
	var a domain.Actor
	var phone, institution, level, field sql.NullString
	var role string
	var active int
	err := s.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &phone, &institution, &level, &field, &role, &active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.Phone = phone.String
	a.Institution = institution.String
	a.AcademicLevel = level.String
	a.FieldOfStudy = field.String
	a.Role = domain.Role(role)
	a.Active = active == 1
	return a, nil
}

func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actors(`+actorColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Email, a.PasswordHash, a.FirstName, a.LastName, nullable(a.Phone), nullable(a.Institution),
		nullable(a.AcademicLevel), nullable(a.FieldOfStudy), string(a.Role), boolInt(a.Active), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE actors SET email=?,password_hash=?,first_name=?,last_name=?,phone=?,institution=?,academic_level=?,field_of_study=?,role=?,active=?,updated_at=? WHERE id=?`,
		a.Email, a.PasswordHash, a.FirstName, a.LastName, nullable(a.Phone), nullable(a.Institution),
		nullable(a.AcademicLevel), nullable(a.FieldOfStudy), string(a.Role), boolInt(a.Active), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return r.GetActorTx(ctx, nil, id)
}

func (r Repo) GetActorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	return scanActor(r.q(tx).QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

func (r Repo) GetActorByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.Actor, error) {
	return scanActor(r.q(tx).QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

// CountStaff returns how many admin or super_admin accounts exist.
func (r Repo) CountStaff(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM actors WHERE role IN ('admin','super_admin')`).Scan(&n)
	return n, err
}

// ListActorsByRole returns actors holding any of roles, oldest first.
func (r Repo) ListActorsByRole(ctx context.Context, roles ...domain.Role) ([]domain.Actor, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(roles))
	args := make([]any, len(roles))
	for i, role := range roles {
		placeholders[i] = "?"
		args[i] = string(role)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE role IN (`+strings.Join(placeholders, ",")+`) ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
