package main

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

const _MySQLCurrentDataBaseSQL = `
SELECT DATABASE();
`

const _MySQLTableDefSQL = `
SELECT
    TABLE_NAME, TABLE_COMMENT
FROM
    information_schema.TABLES a
WHERE
    a.TABLE_SCHEMA = ? AND a.TABLE_TYPE = 'BASE TABLE'
ORDER BY a.TABLE_NAME
`

const _MySQLColumDefSQL = `
SELECT
    b.ORDINAL_POSITION, b.COLUMN_NAME, b.COLUMN_COMMENT, b.COLUMN_TYPE, b.COLUMN_KEY, b.IS_NULLABLE
FROM
    information_schema.COLUMNS b
WHERE
    b.TABLE_SCHEMA = ? AND b.TABLE_NAME = ?
ORDER BY b.ORDINAL_POSITION
`

const _MySQLFKDefSQL = `
SELECT CONSTRAINT_NAME, TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
WHERE CONSTRAINT_SCHEMA = ? AND REFERENCED_TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
`

type mysql struct {
	db     *sql.DB
	q      Queryer
	dbName string
}

// NewMysql returns a Planter reading information_schema of the database
// named in the connection string.
func NewMysql() Planter {
	return &mysql{}
}

func (m *mysql) Open(ctx context.Context, connStr string) error {
	db, err := openDB(ctx, "mysql", connStr)
	if err != nil {
		return err
	}
	m.db, m.q = db, db
	return nil
}

func (m *mysql) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *mysql) currentDataBase(ctx context.Context) (string, error) {
	if m.dbName != "" {
		return m.dbName, nil
	}
	var name sql.NullString
	if err := m.q.QueryRowContext(ctx, _MySQLCurrentDataBaseSQL).Scan(&name); err != nil {
		return "", errors.Wrap(err, "failed to load current database")
	}
	if !name.Valid || name.String == "" {
		return "", errors.New("no database selected in connection string")
	}
	m.dbName = name.String
	return m.dbName, nil
}

func (m *mysql) loadColumns(ctx context.Context, dbName, table string) ([]*Column, error) {
	rows, err := m.q.QueryContext(ctx, _MySQLColumDefSQL, dbName, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load column def: %s", table)
	}
	defer rows.Close()

	var cols []*Column
	for rows.Next() {
		var (
			c        Column
			keyType  string
			nullable string
		)
		if err := rows.Scan(&c.FieldOrdinal, &c.Name, &c.Comment, &c.DataType, &keyType, &nullable); err != nil {
			return nil, errors.Wrap(err, "failed to scan")
		}
		c.DDLType = c.DataType
		c.NotNull = nullable == "NO"
		c.IsPrimaryKey = keyType == "PRI"
		c.Comment.String = stripCommentSuffix(c.Comment.String)
		c.Comment.Valid = c.Comment.Valid && c.Comment.String != ""
		cols = append(cols, &c)
	}
	return cols, errors.Wrap(rows.Err(), "failed to load column def")
}

func (m *mysql) loadForeignKeys(ctx context.Context, dbName string) ([]*ForeignKey, error) {
	rows, err := m.q.QueryContext(ctx, _MySQLFKDefSQL, dbName, dbName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fk def")
	}
	defer rows.Close()

	var fks []*ForeignKey
	for rows.Next() {
		var fk ForeignKey
		err := rows.Scan(
			&fk.ConstraintName,
			&fk.SourceTableName,
			&fk.SourceColName,
			&fk.TargetTableName,
			&fk.TargetColName,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan")
		}
		fks = append(fks, &fk)
	}
	return fks, errors.Wrap(rows.Err(), "failed to load fk def")
}

// LoadTables loads MySQL table definitions.
func (m *mysql) LoadTables(ctx context.Context) ([]*Table, error) {
	dbName, err := m.currentDataBase(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := m.q.QueryContext(ctx, _MySQLTableDefSQL, dbName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load table def")
	}
	var tbls []*Table
	for rows.Next() {
		t := &Table{}
		if err := rows.Scan(&t.Name, &t.Comment); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan")
		}
		t.Comment.Valid = t.Comment.Valid && t.Comment.String != ""
		tbls = append(tbls, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "failed to load table def")
	}
	rows.Close()

	for _, t := range tbls {
		if t.Columns, err = m.loadColumns(ctx, dbName, t.Name); err != nil {
			return nil, err
		}
	}
	fks, err := m.loadForeignKeys(ctx, dbName)
	if err != nil {
		return nil, err
	}
	if err := linkForeignKeys(tbls, fks); err != nil {
		return nil, err
	}
	return tbls, nil
}
