package pg

import (
	"context"
	"database/sql"
	"errors"
)

// Setting reads a key from global_settings. Missing keys are not an error.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, errNoDB
	}
	var value string
	err := s.db.QueryRowContext(ctx, `select value from global_settings where key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into global_settings (key, value, updated_at) values ($1, $2, now())
		on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}
