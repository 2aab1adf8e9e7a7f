package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func col(ordinal int, name, typ string, pk, notNull bool) *Column {
	return &Column{FieldOrdinal: ordinal, Name: name, DataType: typ, DDLType: typ, IsPrimaryKey: pk, NotNull: notNull}
}

// blogTables is users <- posts <- post_tags; post_tags has a composite pk.
func blogTables() []*Table {
	return []*Table{
		{
			Name:    "users",
			Comment: sql.NullString{String: "registered users", Valid: true},
			Columns: []*Column{
				col(1, "id", "serial", true, true),
				col(2, "email", "text", false, true),
				col(3, "nickname", "text", false, false),
			},
		},
		{
			Name: "posts",
			Columns: []*Column{
				col(1, "id", "serial", true, true),
				col(2, "user_id", "integer", false, true),
				col(3, "body", "text", false, false),
			},
		},
		{
			Name: "post_tags",
			Columns: []*Column{
				col(1, "post_id", "integer", true, true),
				col(2, "tag", "text", true, true),
			},
		},
	}
}

func declaredFKs() []*ForeignKey {
	return []*ForeignKey{
		{ConstraintName: "posts_user_fk", SourceTableName: "posts", SourceColName: "user_id", TargetTableName: "users", TargetColName: "id"},
		{ConstraintName: "post_tags_post_fk", SourceTableName: "post_tags", SourceColName: "post_id", TargetTableName: "posts", TargetColName: "id"},
	}
}

func TestLinkForeignKeys(t *testing.T) {
	tbls := blogTables()
	require.NoError(t, linkForeignKeys(tbls, declaredFKs()))

	posts, _ := FindTableByName(tbls, "posts")
	require.Len(t, posts.ForeignKeys, 1)
	fk := posts.ForeignKeys[0]
	assert.Equal(t, "users", fk.TargetTable.Name)
	assert.Equal(t, "id", fk.TargetColumn.Name)
	assert.True(t, fk.SourceColumn.IsForeignKey)
	assert.True(t, fk.IsTargetColPrimaryKey)
	assert.False(t, fk.IsSourceColPrimaryKey)
	assert.False(t, fk.IsOneToOne())

	tags, _ := FindTableByName(tbls, "post_tags")
	require.Len(t, tags.ForeignKeys, 1)
	assert.True(t, tags.ForeignKeys[0].IsSourceColPrimaryKey)
	// composite pk on one side only
	assert.False(t, tags.ForeignKeys[0].IsOneToOne())
}

func TestLinkForeignKeysMissing(t *testing.T) {
	err := linkForeignKeys(blogTables(), []*ForeignKey{
		{SourceTableName: "posts", SourceColName: "user_id", TargetTableName: "accounts", TargetColName: "id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accounts not found")

	err = linkForeignKeys(blogTables(), []*ForeignKey{
		{SourceTableName: "posts", SourceColName: "author_id", TargetTableName: "users", TargetColName: "id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "posts.author_id not found")
}

func TestIsOneToOne(t *testing.T) {
	profiles := &Table{Name: "profiles", Columns: []*Column{col(1, "user_id", "integer", true, true)}}
	users := &Table{Name: "users", Columns: []*Column{col(1, "id", "serial", true, true)}}
	tbls := []*Table{users, profiles}
	require.NoError(t, linkForeignKeys(tbls, []*ForeignKey{
		{SourceTableName: "profiles", SourceColName: "user_id", TargetTableName: "users", TargetColName: "id"},
	}))
	assert.True(t, profiles.ForeignKeys[0].IsOneToOne())

	a := &Table{Name: "a", Columns: []*Column{col(1, "x", "int", true, true), col(2, "y", "int", true, true)}}
	b := &Table{Name: "b", Columns: []*Column{col(1, "x", "int", true, true), col(2, "y", "int", true, true)}}
	require.NoError(t, linkForeignKeys([]*Table{a, b}, []*ForeignKey{
		{SourceTableName: "b", SourceColName: "x", TargetTableName: "a", TargetColName: "x"},
		{SourceTableName: "b", SourceColName: "y", TargetTableName: "a", TargetColName: "y"},
	}))
	assert.True(t, a.IsCompositePK())
	assert.True(t, b.ForeignKeys[0].IsOneToOne())
}

func TestInferForeignKeys(t *testing.T) {
	tbls := []*Table{
		{Name: "users", Columns: []*Column{col(1, "id", "serial", true, true)}},
		{Name: "team", Columns: []*Column{col(1, "team_id", "serial", true, true)}},
		{Name: "members", Columns: []*Column{
			col(1, "id", "serial", true, true),
			col(2, "users_id", "integer", false, true),
			col(3, "team_id", "integer", false, true),
			col(4, "role", "text", false, false),
		}},
	}
	InferForeignKeys(tbls)

	members := tbls[2]
	require.Len(t, members.ForeignKeys, 2)
	targets := map[string]string{}
	for _, fk := range members.ForeignKeys {
		targets[fk.SourceColName] = fk.TargetTableName + "." + fk.TargetColName
		assert.Same(t, members, fk.SourceTable)
	}
	assert.Equal(t, map[string]string{"users_id": "users.id", "team_id": "team.team_id"}, targets)
	assert.Empty(t, tbls[0].ForeignKeys)
	assert.Empty(t, tbls[1].ForeignKeys)
}

func TestInferForeignKeysSkippedWhenDeclared(t *testing.T) {
	tbls := blogTables()
	require.NoError(t, linkForeignKeys(tbls, declaredFKs()[:1]))
	InferForeignKeys(tbls)

	tags, _ := FindTableByName(tbls, "post_tags")
	assert.Empty(t, tags.ForeignKeys)
}

func TestFilterTables(t *testing.T) {
	tbls := blogTables()
	require.NoError(t, linkForeignKeys(tbls, declaredFKs()))

	got, err := FilterTables(true, tbls, []string{"^post"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "posts", got[0].Name)
	assert.Empty(t, got[0].ForeignKeys, "fk to users is filtered out")
	assert.Len(t, got[1].ForeignKeys, 1)

	tbls = blogTables()
	require.NoError(t, linkForeignKeys(tbls, declaredFKs()))
	got, err = FilterTables(false, tbls, []string{"tags"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "users", got[0].Name)
	assert.Equal(t, "posts", got[1].Name)
	assert.Len(t, got[1].ForeignKeys, 1)

	_, err = FilterTables(true, tbls, []string{"("})
	assert.Error(t, err)
}

func TestRenderUML(t *testing.T) {
	tbls := blogTables()
	require.NoError(t, linkForeignKeys(tbls, declaredFKs()))

	src, err := RenderUML(tbls, "Blog")
	require.NoError(t, err)

	want := `@startuml
title Blog
hide circle
skinparam linetype ortho

entity "**users**" {
  registered users
  ..
  + ""id"": //serial [PK]//
  --
  *""email"": //text//
  ""nickname"": //text//
}

entity "**posts**" {
  + ""id"": //serial [PK]//
  --
  *""user_id"": //integer [FK]//
  ""body"": //text//
}

entity "**post_tags**" {
  + ""post_id"": //integer [PK][FK]//
  + ""tag"": //text [PK]//
  --
}

"**posts**" }o--|| "**users**"
"**post_tags**" }o--|| "**posts**"
@enduml
`
	assert.Equal(t, want, string(src))
}

func TestRenderUMLUntitledEmpty(t *testing.T) {
	src, err := RenderUML(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "@startuml\nhide circle\nskinparam linetype ortho\n\n@enduml\n", string(src))
}

func TestSchemaSourceFeedsGenerator(t *testing.T) {
	dir := t.TempDir()
	tbls := blogTables()
	require.NoError(t, linkForeignKeys(tbls, declaredFKs()))
	src, err := RenderUML(tbls, "")
	require.NoError(t, err)

	file, err := WriteSchemaSource(dir, "blog", DefaultSuffix, src)
	require.NoError(t, err)
	assert.Equal(t, "blog_clean.puml", file)

	g, _ := newTestGenerator(t, dir)
	res, err := g.Process(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "blog.png", res.Name)

	decoded, err := decodeInput(res.URL, DefaultEncoding)
	require.NoError(t, err)
	assert.Equal(t, string(src), string(decoded))
	_, err = os.Stat(filepath.Join(dir, "blog.html"))
	assert.NoError(t, err)
}

func TestNewPlanter(t *testing.T) {
	p, err := NewPlanter("mysql", "")
	require.NoError(t, err)
	assert.IsType(t, &mysql{}, p)

	p, err = NewPlanter("postgres", "app")
	require.NoError(t, err)
	require.IsType(t, &postgres{}, p)
	assert.Equal(t, "app", p.(*postgres).schema)

	_, err = NewPlanter("sqlite", "")
	assert.Error(t, err)

	assert.NoError(t, p.Close())
}

func TestStripCommentSuffix(t *testing.T) {
	assert.Equal(t, "user name", stripCommentSuffix("user name\tdisplay only"))
	assert.Equal(t, "plain", stripCommentSuffix("plain"))
}

type recordingQueryer struct {
	query string
	args  []interface{}
}

func (r *recordingQueryer) QueryContext(_ context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	r.query, r.args = query, args
	return nil, sql.ErrConnDone
}

func (r *recordingQueryer) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

func TestForeignKeysLimitedToSameSchema(t *testing.T) {
	ctx := context.Background()

	rq := &recordingQueryer{}
	_, err := (&mysql{q: rq}).loadForeignKeys(ctx, "app")
	require.Error(t, err)
	assert.Contains(t, rq.query, "REFERENCED_TABLE_SCHEMA = ?")
	assert.Equal(t, []interface{}{"app", "app"}, rq.args)

	rq = &recordingQueryer{}
	_, err = (&postgres{q: rq, schema: "public"}).loadForeignKeys(ctx, "posts")
	require.Error(t, err)
	assert.Contains(t, rq.query, "cns.nspname = $1")
	assert.Equal(t, []interface{}{"public", "posts"}, rq.args)
}
