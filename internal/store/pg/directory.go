package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sysaccess.org/internal/access"
)

const userColumns = `u.id, u.name, u.email, u.directorate_id, u.manager_id, u.active, u.is_admin`

func scanUser(sc scanner) (access.User, error) {
	var u access.User
	err := sc.Scan(&u.ID, &u.Name, &u.Email, &u.DirectorateID, &u.ManagerID, &u.Active, &u.Admin)
	return u, err
}

func (s *Store) User(ctx context.Context, id string) (access.User, error) {
	if s.db == nil {
		return access.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where u.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, fmt.Errorf("%w: user %s", access.ErrNotFound, id)
	}
	return u, err
}

// PutUser upserts a directory record. The user administration endpoints write through it.
func (s *Store) PutUser(ctx context.Context, u access.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", access.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, name, email, directorate_id, manager_id, active, is_admin)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (id) do update set
			name = excluded.name, email = excluded.email, directorate_id = excluded.directorate_id,
			manager_id = excluded.manager_id, active = excluded.active, is_admin = excluded.is_admin
	`, u.ID, u.Name, u.Email, u.DirectorateID, u.ManagerID, u.Active, u.Admin)
	return err
}

// ListUsers returns the directory ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]access.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users u order by u.name, u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Reviewers(ctx context.Context, role access.Role, system string) ([]access.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select ` + userColumns + `
		from users u
		join role_assignments ra on ra.user_id = u.id
		where u.active and ra.role = $1`
	args := []any{string(role)}
	if system != "" {
		query += ` and ra.system_code = $2`
		args = append(args, system)
	}
	rows, err := s.db.QueryContext(ctx, query+` order by u.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Assignment returns the current role; users without a row are staff.
func (s *Store) Assignment(ctx context.Context, userID string) (access.RoleAssignment, error) {
	if s.db == nil {
		return access.RoleAssignment{}, errNoDB
	}
	var (
		ra         access.RoleAssignment
		role       sql.NullString
		assignedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select u.id, ra.role, coalesce(ra.directorate_id, ''), coalesce(ra.system_code, ''), ra.assigned_at
		from users u
		left join role_assignments ra on ra.user_id = u.id
		where u.id = $1
	`, userID).Scan(&ra.UserID, &role, &ra.Directorate, &ra.System, &assignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.RoleAssignment{}, fmt.Errorf("%w: user %s", access.ErrNotFound, userID)
	}
	if err != nil {
		return access.RoleAssignment{}, err
	}
	ra.Role = access.RoleStaff
	if role.Valid {
		ra.Role = access.Role(role.String)
	}
	if assignedAt.Valid {
		ra.AssignedAt = assignedAt.Time.UTC()
	}
	return ra, nil
}

// PutAssignment replaces the single assignment row of the user.
func (s *Store) PutAssignment(ctx context.Context, ra access.RoleAssignment) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments (user_id, role, directorate_id, system_code, assigned_at)
		values ($1,$2,$3,$4,$5)
		on conflict (user_id) do update set
			role = excluded.role, directorate_id = excluded.directorate_id,
			system_code = excluded.system_code, assigned_at = excluded.assigned_at
	`, ra.UserID, string(ra.Role), ra.Directorate, ra.System, ra.AssignedAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%w: user %s", access.ErrNotFound, ra.UserID)
	}
	return err
}
