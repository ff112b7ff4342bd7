package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"schedulers.app/internal/auth"
	"schedulers.app/internal/mutation"
)

var _ mutation.Executor = (*Store)(nil)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func quoteIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("pg: invalid identifier %q", name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func (s *Store) Exists(ctx context.Context, table string, id int64) (bool, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.db.QueryRowContext(ctx, `select exists(select 1 from `+t+` where id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *Store) Column(ctx context.Context, table string, id int64, column string) (any, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	c, err := quoteIdent(column)
	if err != nil {
		return nil, err
	}
	var v any
	err = s.db.QueryRowContext(ctx, `select `+c+` from `+t+` where id = $1`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	return v, nil
}

// Apply writes the change set as one parameterized update inside a
// transaction, after checking unique columns for collisions.
func (s *Store) Apply(ctx context.Context, cs mutation.ChangeSet) error {
	if len(cs.Changes) == 0 {
		return mutation.ErrNoValidFields
	}
	table, err := quoteIdent(cs.Table)
	if err != nil {
		return err
	}

	var (
		sets []string
		args []any
		idx  = 1
	)
	for _, ch := range cs.Changes {
		col, err := quoteIdent(ch.Field)
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, ch.Value)
		idx++
	}
	if cs.StampAt != "" {
		col, err := quoteIdent(cs.StampAt)
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, cs.At)
		idx++
	}
	if cs.StampBy != "" {
		col, err := quoteIdent(cs.StampBy)
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, cs.ActorID)
		idx++
	}
	query := fmt.Sprintf(`update %s set %s where id = $%d`, table, strings.Join(sets, ", "), idx)
	args = append(args, cs.ID)

	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		for _, field := range cs.Unique {
			v, ok := cs.Value(field)
			str, isString := v.(string)
			if !ok || !isString || str == "" {
				continue
			}
			col, err := quoteIdent(field)
			if err != nil {
				return err
			}
			var taken bool
			if err := tx.QueryRowContext(ctx,
				`select exists(select 1 from `+table+` where lower(`+col+`) = lower($1) and id <> $2)`,
				str, cs.ID).Scan(&taken); err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: %s already in use", auth.ErrConflict, field)
			}
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return auth.ErrConflict
			}
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if aff == 0 {
			return auth.ErrNotFound
		}
		return nil
	})
}
