package pgo

import (
	"time"

	"github.com/bryanhughes/pgo/internal/wire"
)

// CommandTag is the decoded verb + row counts from a CommandComplete
// message (e.g. Verb "select", Nums [3]). Unrecognized verbs still decode,
// just with whatever verb string the server sent as Verb.
type CommandTag = wire.CommandTag

// Row is one decoded result row, ordered the same as Result.Fields.
type Row []any

// Result is the outcome of one query: the symbolic command, the number of
// decoded rows, and the decoded rows themselves — either
// as Row slices or, when QueryOption WithRowsAsMaps is set, as
// map[string]any keyed by column name.
type Result struct {
	Command   CommandTag
	NumRows   int
	Rows      []Row
	RowMaps   []map[string]any
	Fields    []wire.FieldDescription
	QueueTime time.Duration // time spent waiting for a connection; zero if none
}
