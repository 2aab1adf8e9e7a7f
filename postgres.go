package main

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // postgres
	"github.com/pkg/errors"
)

const _PGSQLColumnDefSQL = `
SELECT
    a.attnum AS field_ordinal,
    a.attname AS column_name,
    pd.description AS description,
    format_type(a.atttypid, a.atttypmod) AS data_type,
    a.attnotnull AS not_null,
    COALESCE(ct.contype = 'p', false) AS  is_primary_key,
    CASE WHEN a.atttypid = ANY ('{int,int8,int2}'::regtype[])
      AND EXISTS (
         SELECT 1 FROM pg_attrdef ad
         WHERE  ad.adrelid = a.attrelid
         AND    ad.adnum   = a.attnum
         AND    pg_get_expr(ad.adbin, ad.adrelid) = 'nextval('''
            || (pg_get_serial_sequence (a.attrelid::regclass::text
                                      , a.attname))::regclass
            || '''::regclass)'
         )
    THEN CASE a.atttypid
            WHEN 'int'::regtype  THEN 'serial'
            WHEN 'int8'::regtype THEN 'bigserial'
            WHEN 'int2'::regtype THEN 'smallserial'
         END
    ELSE format_type(a.atttypid, a.atttypmod)
    END AS ddl_type
FROM pg_attribute a
JOIN ONLY pg_class c ON c.oid = a.attrelid
JOIN ONLY pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_constraint ct ON ct.conrelid = c.oid
AND a.attnum = ANY(ct.conkey) AND ct.contype IN ('p', 'u')
LEFT JOIN pg_attrdef ad ON ad.adrelid = c.oid AND ad.adnum = a.attnum
LEFT JOIN pg_description pd ON pd.objoid = a.attrelid AND pd.objsubid = a.attnum
WHERE a.attisdropped = false
AND n.nspname = $1
AND c.relname = $2
AND a.attnum > 0
ORDER BY a.attnum
`

const _PGSQLTableDefSQL = `
SELECT
  c.relname AS table_name,
  pd.description AS description
FROM pg_class c
JOIN ONLY pg_namespace n
ON n.oid = c.relnamespace
LEFT JOIN pg_description pd ON pd.objoid = c.oid AND pd.objsubid = 0
WHERE n.nspname = $1
AND c.relkind in ('r','p') AND NOT COALESCE((row_to_json(c)->>'relispartition')::boolean,false)
ORDER BY c.relname
`

const _PGSQLFKDefSQL = `
select
  att2.attname as "child_column"
  , cl.relname as "parent_table"
  , att.attname as "parent_column"
  , con.conname
  , case 
      when pi.indisprimary is null then false
      else pi.indisprimary
    end as "is_parent_pk"
  , case 
      when ci.indisprimary is null then false
      else ci.indisprimary
    end as "is_child_pk"
from (
  select 
    unnest(con1.conkey) as "parent"
    , unnest(con1.confkey) as "child"
    , con1.confrelid
    , con1.conrelid
    , con1.conname
  from pg_class cl
  join pg_namespace ns on cl.relnamespace = ns.oid
  join pg_constraint con1 on con1.conrelid = cl.oid
  where ns.nspname = $1
  and cl.relname = $2
  and con1.contype = 'f'
  and (coalesce((row_to_json(con1)->>'conparentid'),'0')::oid) = 0
) con
join pg_attribute att
on att.attrelid = con.confrelid and att.attnum = con.child
left outer join pg_index pi
on att.attrelid = pi.indrelid and att.attnum = any(pi.indkey)
join pg_class cl
on cl.oid = con.confrelid
join pg_namespace cns
on cns.oid = cl.relnamespace and cns.nspname = $1
join pg_attribute att2
on att2.attrelid = con.conrelid and att2.attnum = con.parent
left outer join pg_index ci
on att2.attrelid = ci.indrelid and att2.attnum = any(ci.indkey)
order by con.conname
`

type postgres struct {
	db     *sql.DB
	q      Queryer
	schema string
}

// NewPostgres returns a Planter reading the pg_catalog of schema.
func NewPostgres(schema string) Planter {
	return &postgres{schema: schema}
}

func (p *postgres) Open(ctx context.Context, connStr string) error {
	db, err := openDB(ctx, "postgres", connStr)
	if err != nil {
		return err
	}
	p.db, p.q = db, db
	return nil
}

func (p *postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *postgres) loadColumns(ctx context.Context, table string) ([]*Column, error) {
	rows, err := p.q.QueryContext(ctx, _PGSQLColumnDefSQL, p.schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load column def: %s", table)
	}
	defer rows.Close()

	var cols []*Column
	for rows.Next() {
		var c Column
		err := rows.Scan(
			&c.FieldOrdinal,
			&c.Name,
			&c.Comment,
			&c.DataType,
			&c.NotNull,
			&c.IsPrimaryKey,
			&c.DDLType,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan")
		}
		c.Comment.String = stripCommentSuffix(c.Comment.String)
		cols = append(cols, &c)
	}
	return cols, errors.Wrap(rows.Err(), "failed to load column def")
}

func (p *postgres) loadForeignKeys(ctx context.Context, table string) ([]*ForeignKey, error) {
	rows, err := p.q.QueryContext(ctx, _PGSQLFKDefSQL, p.schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load fk def: %s", table)
	}
	defer rows.Close()

	var fks []*ForeignKey
	for rows.Next() {
		fk := ForeignKey{SourceTableName: table}
		err := rows.Scan(
			&fk.SourceColName,
			&fk.TargetTableName,
			&fk.TargetColName,
			&fk.ConstraintName,
			&fk.IsTargetColPrimaryKey,
			&fk.IsSourceColPrimaryKey,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan")
		}
		fks = append(fks, &fk)
	}
	return fks, errors.Wrap(rows.Err(), "failed to load fk def")
}

// LoadTables loads Postgres table definitions.
func (p *postgres) LoadTables(ctx context.Context) ([]*Table, error) {
	rows, err := p.q.QueryContext(ctx, _PGSQLTableDefSQL, p.schema)
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
		tbls = append(tbls, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "failed to load table def")
	}
	rows.Close()

	var fks []*ForeignKey
	for _, t := range tbls {
		if t.Columns, err = p.loadColumns(ctx, t.Name); err != nil {
			return nil, err
		}
		tfks, err := p.loadForeignKeys(ctx, t.Name)
		if err != nil {
			return nil, err
		}
		fks = append(fks, tfks...)
	}
	if err := linkForeignKeys(tbls, fks); err != nil {
		return nil, err
	}
	return tbls, nil
}
