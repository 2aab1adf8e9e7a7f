package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Planter loads table definitions from a database.
type Planter interface {
	Open(ctx context.Context, connStr string) error
	LoadTables(ctx context.Context) ([]*Table, error)
	Close() error
}

// NewPlanter returns the Planter for driver. schema is only used by
// postgres.
func NewPlanter(driver, schema string) (Planter, error) {
	switch driver {
	case "mysql":
		return NewMysql(), nil
	case "postgres":
		return NewPostgres(schema), nil
	default:
		return nil, errors.Errorf("unknown driver %q (valid: mysql, postgres)", driver)
	}
}

// Queryer is the part of *sql.DB the loaders use.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func openDB(ctx context.Context, driver, connStr string) (*sql.DB, error) {
	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	return db, nil
}

// Column is a table column.
type Column struct {
	FieldOrdinal int
	Name         string
	Comment      sql.NullString
	DataType     string
	DDLType      string
	NotNull      bool
	IsPrimaryKey bool
	IsForeignKey bool
}

// ForeignKey points from a column of the source table to a column of the
// target table.
type ForeignKey struct {
	ConstraintName        string
	SourceTableName       string
	SourceColName         string
	IsSourceColPrimaryKey bool
	SourceTable           *Table
	SourceColumn          *Column
	TargetTableName       string
	TargetColName         string
	IsTargetColPrimaryKey bool
	TargetTable           *Table
	TargetColumn          *Column
}

// IsOneToOne reports whether the relation is one to one:
//   - both tables have composite pks and every fk from source to target
//     joins pk columns on both sides
//   - the source pk is a single column that references the target pk
//
// Everything else is one to many.
func (k *ForeignKey) IsOneToOne() bool {
	switch {
	case k.SourceTable.IsCompositePK() && k.TargetTable.IsCompositePK():
		for _, fk := range k.SourceTable.ForeignKeys {
			if fk.TargetTableName != k.TargetTableName {
				continue
			}
			if !fk.IsSourceColPrimaryKey || !fk.IsTargetColPrimaryKey {
				return false
			}
		}
		return true
	case !k.SourceTable.IsCompositePK() && k.SourceColumn.IsPrimaryKey && k.TargetColumn.IsPrimaryKey:
		return true
	default:
		return false
	}
}

// Table is a database table.
type Table struct {
	Name        string
	Comment     sql.NullString
	Columns     []*Column
	ForeignKeys []*ForeignKey
}

// IsCompositePK reports whether the table has more than one pk column.
func (t *Table) IsCompositePK() bool {
	cnt := 0
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			cnt++
		}
	}
	return cnt >= 2
}

// PrimaryKeys returns the pk columns in ordinal order.
func (t *Table) PrimaryKeys() []*Column {
	var cols []*Column
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			cols = append(cols, c)
		}
	}
	return cols
}

// Attributes returns the non-pk columns in ordinal order.
func (t *Table) Attributes() []*Column {
	var cols []*Column
	for _, c := range t.Columns {
		if !c.IsPrimaryKey {
			cols = append(cols, c)
		}
	}
	return cols
}

// Column returns the column called name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// FindTableByName finds a table by name.
func FindTableByName(tbls []*Table, name string) (*Table, bool) {
	for _, tbl := range tbls {
		if tbl.Name == name {
			return tbl, true
		}
	}
	return nil, false
}

// stripCommentSuffix keeps the part of a comment before the first tab.
func stripCommentSuffix(s string) string {
	if tok := strings.SplitN(s, "\t", 2); len(tok) == 2 {
		return tok[0]
	}
	return s
}

// linkForeignKeys resolves the table and column pointers of fks, whose
// names were read from the catalog.
func linkForeignKeys(tbls []*Table, fks []*ForeignKey) error {
	for _, fk := range fks {
		src, ok := FindTableByName(tbls, fk.SourceTableName)
		if !ok {
			return errors.Errorf("%s not found", fk.SourceTableName)
		}
		srcCol, ok := src.Column(fk.SourceColName)
		if !ok {
			return errors.Errorf("%s.%s not found", fk.SourceTableName, fk.SourceColName)
		}
		dst, ok := FindTableByName(tbls, fk.TargetTableName)
		if !ok {
			return errors.Errorf("%s not found", fk.TargetTableName)
		}
		dstCol, ok := dst.Column(fk.TargetColName)
		if !ok {
			return errors.Errorf("%s.%s not found", fk.TargetTableName, fk.TargetColName)
		}
		srcCol.IsForeignKey = true
		fk.SourceTable, fk.SourceColumn = src, srcCol
		fk.TargetTable, fk.TargetColumn = dst, dstCol
		fk.IsSourceColPrimaryKey = srcCol.IsPrimaryKey
		fk.IsTargetColPrimaryKey = dstCol.IsPrimaryKey
		src.ForeignKeys = append(src.ForeignKeys, fk)
	}
	return nil
}

func matchAny(v string, exps []*regexp.Regexp) bool {
	for _, e := range exps {
		if e.MatchString(v) {
			return true
		}
	}
	return false
}

// FilterTables keeps the tables whose name matches one of patterns when
// match is true, or matches none of them when match is false. Foreign keys
// to dropped tables are dropped with them.
func FilterTables(match bool, tbls []*Table, patterns []string) ([]*Table, error) {
	var exps []*regexp.Regexp
	for _, p := range patterns {
		r, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid table pattern %q", p)
		}
		exps = append(exps, r)
	}

	var target []*Table
	for _, tbl := range tbls {
		if matchAny(tbl.Name, exps) != match {
			continue
		}
		var fks []*ForeignKey
		for _, fk := range tbl.ForeignKeys {
			if matchAny(fk.TargetTableName, exps) == match {
				fks = append(fks, fk)
			}
		}
		tbl.ForeignKeys = fks
		target = append(target, tbl)
	}
	return target, nil
}

// referencedPK returns t's pk column that a column called colName would
// reference by naming convention: the pk itself when its name already
// carries the table name (users.user_id), or <table>_<pk> otherwise
// (users.id <- posts.users_id).
func (t *Table) referencedPK(colName string) (*Column, bool) {
	for _, col := range t.PrimaryKeys() {
		want := col.Name
		if !strings.Contains(col.Name, t.Name) {
			want = fmt.Sprintf("%s_%s", t.Name, col.Name)
		}
		if colName == want {
			return col, true
		}
	}
	return nil, false
}

// inferFrom adds to other the foreign keys its columns imply towards t.
func (t *Table) inferFrom(other *Table) {
	for _, col := range other.Columns {
		if col.IsPrimaryKey {
			continue
		}
		pk, ok := t.referencedPK(col.Name)
		if !ok {
			continue
		}
		col.IsForeignKey = true
		other.ForeignKeys = append(other.ForeignKeys, &ForeignKey{
			ConstraintName:        col.Name,
			SourceTableName:       other.Name,
			SourceColName:         col.Name,
			SourceTable:           other,
			SourceColumn:          col,
			TargetTableName:       t.Name,
			TargetColName:         pk.Name,
			IsTargetColPrimaryKey: true,
			TargetTable:           t,
			TargetColumn:          pk,
		})
	}
}

// InferForeignKeys derives foreign keys from column names, but only when
// no table declares any.
func InferForeignKeys(tables []*Table) {
	for _, t := range tables {
		if len(t.ForeignKeys) > 0 {
			return
		}
	}
	for i, cur := range tables {
		for _, rel := range tables[i+1:] {
			cur.inferFrom(rel)
			rel.inferFrom(cur)
		}
	}
}

const umlTmpl = `@startuml
{{- with .Title }}
title {{ . }}
{{- end }}
hide circle
skinparam linetype ortho
{{ range .Tables }}
entity "**{{ .Name }}**" {
{{- if .Comment.Valid }}
  {{ .Comment.String }}
  ..
{{- end }}
{{- range .PrimaryKeys }}
  + ""{{ .Name }}"": //{{ .DDLType }} [PK]{{ if .IsForeignKey }}[FK]{{ end }}//
{{- end }}
  --
{{- range .Attributes }}
  {{ if .NotNull }}*{{ end }}""{{ .Name }}"": //{{ .DDLType }}{{ if .IsForeignKey }} [FK]{{ end }}//
{{- end }}
}
{{ end }}
{{- range .Tables }}
{{- range .ForeignKeys }}
"**{{ .SourceTableName }}**" {{ if .IsOneToOne }}||--||{{ else }}}o--||{{ end }} "**{{ .TargetTableName }}**"
{{- end }}
{{- end }}
@enduml
`

var umlTpl = template.Must(template.New("uml").Parse(umlTmpl))

// RenderUML renders tables and their foreign keys as a PlantUML entity
// diagram.
func RenderUML(tables []*Table, title string) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := umlTpl.Execute(buf, struct {
		Title  string
		Tables []*Table
	}{title, tables})
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute template")
	}
	return buf.Bytes(), nil
}

// WriteSchemaSource saves src as the clean diagram source <dir>/<name><suffix>
// and returns the file name.
func WriteSchemaSource(dir, name, suffix string, src []byte) (string, error) {
	file := name + suffix
	if err := writeFileAtomic(filepath.Join(dir, file), src); err != nil {
		return "", err
	}
	return file, nil
}
