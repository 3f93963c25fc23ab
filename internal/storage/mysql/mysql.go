package mysql

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

type Handler struct {
	Conn *sql.DB
}

func New(conn *sql.DB) *Handler {
	return &Handler{Conn: conn}
}

func (handler *Handler) PrepareAndExecute(statement string, args ...interface{}) (sql.Result, error) {
	const op = "mysql.Handler.PrepareAndExecute"

	stmt, err := handler.Conn.Prepare(statement)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = stmt.Close() }()

	result, err := stmt.Exec(args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (handler *Handler) PrepareAndQueryRow(statement string, args ...interface{}) (*sql.Row, error) {
	const op = "mysql.Handler.PrepareAndQueryRow"

	stmt, err := handler.Conn.Prepare(statement)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = stmt.Close() }()

	return stmt.QueryRow(args...), nil
}

func (handler *Handler) PrepareAndQuery(statement string, args ...interface{}) (*sql.Rows, error) {
	const op = "mysql.Handler.PrepareAndQuery"

	stmt, err := handler.Conn.Prepare(statement)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = stmt.Close() }()

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rows, nil
}
