package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oksasatya/go-user-store/internal/domain/entity"
	"github.com/oksasatya/go-user-store/internal/domain/repository"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UserRepository struct {
	pool DB
}

func NewUserRepository(pool DB) *UserRepository {
	return &UserRepository{pool: pool}
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrUserNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "email") {
		return repository.ErrEmailTaken
	}
	return err
}

// Create inserts u. u.ID is filled only once the row is stored.
func (r *UserRepository) Create(ctx context.Context, u *entity.User) error {
	id := u.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password)
		VALUES ($1, $2, $3, $4)
	`, id, u.Name, u.Email, u.Password); err != nil {
		return mapErr(err)
	}
	u.ID = id
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOneBy(ctx, "email", email)
}

func (r *UserRepository) FindOne(ctx context.Context, id string) (*entity.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrUserNotFound
	}
	return r.findOneBy(ctx, "id", id)
}

// findOneBy: column is never user input.
func (r *UserRepository) findOneBy(ctx context.Context, column, value string) (*entity.User, error) {
	u := &entity.User{}
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, name, email, password
		FROM users
		WHERE `+column+` = $1
	`, value)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password); err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *UserRepository) FindAll(ctx context.Context) ([]entity.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, email, password
		FROM users
		ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []entity.User{}
	for rows.Next() {
		var u entity.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Password); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UserRepository) Update(ctx context.Context, id string, patch entity.UserPatch) (*entity.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrUserNotFound
	}
	u := &entity.User{}
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET name = COALESCE($1, name),
		    email = COALESCE($2, email),
		    password = COALESCE($3, password)
		WHERE id = $4
		RETURNING id::text, name, email, password
	`, patch.Name, patch.Email, patch.Password, id)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password); err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrUserNotFound
	}
	res, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return repository.ErrUserNotFound
	}
	return nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
