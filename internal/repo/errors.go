package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Ошибки хранилищ. Все реализации Store возвращают их, обёрнутыми
// через fmt.Errorf, независимо от драйвера.
var (
	// ErrNotFound — очередь или job не найдены.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — имя очереди или ID уже заняты.
	ErrAlreadyExists = errors.New("already exists")
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

// isUniqueViolation проверяет ошибку нарушения уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// isSQLiteConstraint проверяет конфликт UNIQUE или PRIMARY KEY в SQLite.
func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
