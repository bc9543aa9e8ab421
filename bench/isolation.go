package bench

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"batchbench/cursor"
)

// Isolation is a transaction isolation level. The empty level keeps the
// backend default.
type Isolation string

const (
	IsolationDefault      Isolation = ""
	ReadUncommitted       Isolation = "read-uncommitted"
	ReadCommitted         Isolation = "read-committed"
	RepeatableRead        Isolation = "repeatable-read"
	Serializable          Isolation = "serializable"
	Snapshot              Isolation = "snapshot"
	ReadCommittedSnapshot Isolation = "read-committed-snapshot"
)

// StandardIsolation lists the four ANSI levels.
var StandardIsolation = []Isolation{ReadUncommitted, ReadCommitted, RepeatableRead, Serializable}

func (l Isolation) IsSnapshot() bool {
	return l == Snapshot || l == ReadCommittedSnapshot
}

// SQL renders the level for SET ... TRANSACTION ISOLATION LEVEL.
func (l Isolation) SQL() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	case Snapshot:
		return "SNAPSHOT"
	case ReadCommittedSnapshot:
		return "READ COMMITTED"
	default:
		return ""
	}
}

func (l Isolation) Level() sql.IsolationLevel {
	switch l {
	case ReadUncommitted:
		return sql.LevelReadUncommitted
	case ReadCommitted, ReadCommittedSnapshot:
		return sql.LevelReadCommitted
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	case Snapshot:
		return sql.LevelSnapshot
	default:
		return sql.LevelDefault
	}
}

func (l *Isolation) UnmarshalText(text []byte) error {
	v := Isolation(text)
	switch v {
	case IsolationDefault, ReadUncommitted, ReadCommitted, RepeatableRead, Serializable, Snapshot, ReadCommittedSnapshot:
		*l = v
		return nil
	}
	return fmt.Errorf("unknown isolation level %q", string(text))
}

// Capabilities are the backend-specific behaviors a provider advertises.
type Capabilities struct {
	// ImplicitStatementCache is set when the driver caches prepared
	// statements without being asked to.
	ImplicitStatementCache bool
	SnapshotIsolation      bool
	Isolation              []Isolation
	Strategies             []Strategy
	Cursors                cursor.Modes
}

func (c Capabilities) SupportsIsolation(l Isolation) bool {
	if l == IsolationDefault {
		return true
	}
	if l.IsSnapshot() && !c.SnapshotIsolation {
		return false
	}
	return slices.Contains(c.Isolation, l)
}

func (c Capabilities) SupportsStrategy(s Strategy) bool {
	return slices.Contains(c.Strategies, s)
}

var (
	ErrTimedOut            = errors.New("trial timed out")
	ErrUnknownBackend      = errors.New("unknown backend")
	ErrUnsupportedStrategy = errors.New("unsupported write strategy")
)

type UnsupportedIsolationError struct {
	Backend string
	Level   Isolation
}

func (e *UnsupportedIsolationError) Error() string {
	return fmt.Sprintf("%s does not support isolation level %q", e.Backend, string(e.Level))
}

type AcquisitionError struct {
	Backend string
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s session: %v", e.Backend, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
