// Package sqlexec implements statement executors and cursors over
// database/sql connections. It backs the mysql, lib/pq and sqlite providers.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"batchbench/batch"

	"github.com/samber/lo"
)

// Conn is satisfied by *sql.Conn and *sql.DB.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var ErrNotInsert = errors.New("statement is not an INSERT ... VALUES (...)")

func args(u batch.Unit) []any {
	if !u.IsNamed() {
		return u.Args()
	}
	named := u.NamedArgs()
	return lo.Map(u.Names(), func(name string, _ int) any {
		return sql.Named(name, named[name])
	})
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// SplitInsert splits "INSERT INTO t (a, b) VALUES (?, ?)" into its prefix up
// to and including VALUES and the parenthesized value tuple.
func SplitInsert(query string) (prefix string, tuple string, err error) {
	idx := strings.LastIndex(strings.ToUpper(query), "VALUES")
	if idx < 0 {
		return "", "", ErrNotInsert
	}

	prefix = strings.TrimSpace(query[:idx+len("VALUES")])
	tuple = strings.TrimSpace(query[idx+len("VALUES"):])
	tuple = strings.TrimSuffix(tuple, ";")

	if !strings.HasPrefix(tuple, "(") || !strings.HasSuffix(tuple, ")") {
		return "", "", ErrNotInsert
	}
	return prefix, tuple, nil
}

var numbered = regexp.MustCompile(`\$(\d+)`)

// placeholders counts the bind parameters of tuple. Numbered parameters
// ($1, $2, ...) count up to the highest index.
func placeholders(tuple string) (n int, isNumbered bool) {
	for _, m := range numbered.FindAllStringSubmatch(tuple, -1) {
		idx, _ := strconv.Atoi(m[1])
		n = max(n, idx)
	}
	if n > 0 {
		return n, true
	}
	return strings.Count(tuple, "?"), false
}

// InsertTemplate is a single-row INSERT split for multi-row rewriting.
type InsertTemplate struct {
	Prefix string
	Tuple  string
	Arity  int

	dollar bool
}

func ParseInsert(query string) (InsertTemplate, error) {
	prefix, tuple, err := SplitInsert(query)
	if err != nil {
		return InsertTemplate{}, err
	}
	arity, dollar := placeholders(tuple)
	return InsertTemplate{Prefix: prefix, Tuple: tuple, Arity: arity, dollar: dollar}, nil
}

// Render builds the statement inserting rows tuples at once, renumbering
// numbered parameters so that row i binds values i*Arity+1 onwards.
func (t InsertTemplate) Render(rows int) string {
	var sb strings.Builder
	sb.WriteString(t.Prefix)
	sb.WriteByte(' ')

	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		if t.dollar {
			sb.WriteString(renumber(t.Tuple, i*t.Arity))
		} else {
			sb.WriteString(t.Tuple)
		}
	}
	return sb.String()
}

// renumber shifts every numbered parameter of tuple by offset.
func renumber(tuple string, offset int) string {
	return numbered.ReplaceAllStringFunc(tuple, func(m string) string {
		idx, _ := strconv.Atoi(m[1:])
		return "$" + strconv.Itoa(idx+offset)
	})
}

func CheckArity(u batch.Unit, want int) error {
	if u.Len() != want {
		return fmt.Errorf("unit has %d values, statement expects %d", u.Len(), want)
	}
	return nil
}
