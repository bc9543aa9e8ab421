// Package workload holds the post/comment/details schema the benchmarks
// write to and read from, with generators for its rows.
package workload

import (
	"fmt"
	"strings"
)

type Dialect string

const (
	Postgres   Dialect = "postgres"
	MySQL      Dialect = "mysql"
	SQLite     Dialect = "sqlite"
	ClickHouse Dialect = "clickhouse"
)

func (d *Dialect) UnmarshalText(text []byte) error {
	v := Dialect(strings.ToLower(string(text)))
	switch v {
	case Postgres, MySQL, SQLite, ClickHouse:
		*d = v
		return nil
	}
	return fmt.Errorf("unknown dialect %q", string(text))
}

// Placeholder renders the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d Dialect) insert(table string, columns ...string) string {
	params := make([]string, len(columns))
	for i := range columns {
		params[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(params, ", "))
}

func (d Dialect) InsertPost() string {
	return d.insert("post", "title", "version", "id")
}

func (d Dialect) InsertPostComment() string {
	return d.insert("post_comment", "post_id", "review", "version", "id")
}

func (d Dialect) InsertPostDetails() string {
	return d.insert("post_details", "id", "created_on", "version")
}

// SelectAll joins every comment with its post and the post details.
const SelectAll = "SELECT * FROM post_comment pc " +
	"INNER JOIN post p ON p.id = pc.post_id " +
	"INNER JOIN post_details pd ON p.id = pd.id " +
	"ORDER BY pc.id"

// SelectPosts reads the post table alone, in id order.
const SelectPosts = "SELECT id, title, version FROM post ORDER BY id"

// SelectOne is the scalar query of call configurations.
const SelectOne = "SELECT 1"

// SelectMaxPostID reads the highest post id, or 0 on an empty table.
const SelectMaxPostID = "SELECT COALESCE(MAX(id), 0) FROM post"

// Schema returns the statements that drop and recreate the tables.
func (d Dialect) Schema() []string {
	drop := []string{
		"DROP TABLE IF EXISTS post_comment",
		"DROP TABLE IF EXISTS post_details",
		"DROP TABLE IF EXISTS post",
	}

	switch d {
	case Postgres:
		return append(drop,
			`CREATE TABLE post (
				id bigint PRIMARY KEY,
				title varchar(255),
				version int NOT NULL
			)`,
			`CREATE TABLE post_details (
				id bigint PRIMARY KEY REFERENCES post (id),
				created_on timestamp,
				version int NOT NULL
			)`,
			`CREATE TABLE post_comment (
				id bigint PRIMARY KEY,
				post_id bigint REFERENCES post (id),
				review varchar(255),
				version int NOT NULL
			)`,
		)
	case MySQL:
		return append(drop,
			`CREATE TABLE post (
				id bigint NOT NULL PRIMARY KEY,
				title varchar(255),
				version int NOT NULL
			) ENGINE=InnoDB`,
			`CREATE TABLE post_details (
				id bigint NOT NULL PRIMARY KEY,
				created_on datetime(6),
				version int NOT NULL,
				FOREIGN KEY (id) REFERENCES post (id)
			) ENGINE=InnoDB`,
			`CREATE TABLE post_comment (
				id bigint NOT NULL PRIMARY KEY,
				post_id bigint,
				review varchar(255),
				version int NOT NULL,
				FOREIGN KEY (post_id) REFERENCES post (id)
			) ENGINE=InnoDB`,
		)
	case SQLite:
		return append(drop,
			`CREATE TABLE post (
				id INTEGER PRIMARY KEY,
				title TEXT,
				version INTEGER NOT NULL
			)`,
			`CREATE TABLE post_details (
				id INTEGER PRIMARY KEY REFERENCES post (id),
				created_on DATETIME,
				version INTEGER NOT NULL
			)`,
			`CREATE TABLE post_comment (
				id INTEGER PRIMARY KEY,
				post_id INTEGER REFERENCES post (id),
				review TEXT,
				version INTEGER NOT NULL
			)`,
		)
	case ClickHouse:
		return append(drop,
			`CREATE TABLE post (
				id Int64,
				title String,
				version Int32
			) ENGINE = MergeTree ORDER BY id`,
			`CREATE TABLE post_details (
				id Int64,
				created_on DateTime64(3),
				version Int32
			) ENGINE = MergeTree ORDER BY id`,
			`CREATE TABLE post_comment (
				id Int64,
				post_id Int64,
				review String,
				version Int32
			) ENGINE = MergeTree ORDER BY id`,
		)
	default:
		return nil
	}
}
