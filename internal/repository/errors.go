package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/roomchat/internal/storage"
)

const uniqueViolation = "23505"

// mapErr переводит ошибки драйвера в сентинелы storage; остальные возвращает как есть.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

// rowScanner: общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface{ Scan(dest ...any) error }
