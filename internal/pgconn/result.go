package pgconn

import "github.com/bryanhughes/pgo/internal/wire"

// Notification is a forwarded NotificationResponse (LISTEN/NOTIFY).
type Notification struct {
	BackendPID uint32
	Channel    string
	Payload    string
}

// Result is the outcome of one ExtendedQuery: the described result columns
// (nil for statements with no result set), the raw row values in wire
// binary format, and the decoded command tag.
type Result struct {
	Fields []wire.FieldDescription
	Rows   [][][]byte
	Tag    wire.CommandTag
	Empty  bool // EmptyQueryResponse: sql was empty/whitespace-only
}

// RowsAffected returns the row count carried by the command tag, or -1 if
// the command tag carries none (e.g. CREATE TABLE).
func (r *Result) RowsAffected() int64 {
	if len(r.Tag.Nums) == 0 {
		return -1
	}
	return r.Tag.Nums[0]
}
