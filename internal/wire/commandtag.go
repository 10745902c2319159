package wire

import (
	"strconv"
	"strings"
)

// CommandTag is the decoded form of a CommandComplete tag: a symbolic verb
// plus zero or more trailing integers (row counts, cursor position, etc.).
type CommandTag struct {
	Verb   string
	Nums   []int64
	Object string // set for tags like "CREATE TABLE" -> Object "table"
}

// DecodeCommandTag parses a CommandComplete tag body:
//   - "SELECT N"                      -> {select, [N]}
//   - "INSERT oid N"                  -> {insert, [N]}  (oid discarded)
//   - "UPDATE/DELETE/FETCH/MOVE/COPY N" -> {verb, [N]}
//   - "BEGIN", "COMMIT"               -> {commit, nil}  (both map to commit)
//   - "ROLLBACK"                      -> {rollback, nil}
//   - "VERB REST" where REST starts with a digit -> {verb, [n1, n2, ...]}
//   - "VERB OBJECT" otherwise         -> {verb, object: object_lowercased_with_underscores}
//   - "VERB" alone                    -> {verb}
func DecodeCommandTag(tag []byte) CommandTag {
	s := string(tag)
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return CommandTag{}
	}
	verb := strings.ToLower(parts[0])

	switch verb {
	case "begin", "commit":
		// Intentionally both map to "commit": the server's distinct BEGIN tag
		// is not told apart from COMMIT's here, so callers that branch on
		// Verb never see "begin".
		return CommandTag{Verb: "commit"}
	case "rollback":
		return CommandTag{Verb: "rollback"}
	}

	if len(parts) == 1 {
		return CommandTag{Verb: verb}
	}

	rest := parts[1:]
	switch verb {
	case "insert":
		// INSERT oid N — oid (parts[1]) is discarded, N is parts[2].
		if len(rest) >= 2 {
			if n, err := strconv.ParseInt(rest[1], 10, 64); err == nil {
				return CommandTag{Verb: verb, Nums: []int64{n}}
			}
		}
	case "select", "update", "delete", "fetch", "move", "copy":
		if n, err := strconv.ParseInt(rest[0], 10, 64); err == nil {
			return CommandTag{Verb: verb, Nums: []int64{n}}
		}
	}

	if startsWithDigit(rest[0]) {
		nums := make([]int64, 0, len(rest))
		for _, p := range rest {
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				break
			}
			nums = append(nums, n)
		}
		if len(nums) > 0 {
			return CommandTag{Verb: verb, Nums: nums}
		}
	}

	object := strings.ToLower(strings.Join(rest, "_"))
	return CommandTag{Verb: verb, Object: object}
}

func startsWithDigit(s string) bool {
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

// EncodeCommandTag is the inverse of DecodeCommandTag for the subset of tags
// that round-trip cleanly (select/insert/update/delete/fetch/move/copy with
// a row count, and rollback). It exists primarily to drive the
// round-trip property test; the wire protocol itself never needs to produce
// a CommandComplete body client-side.
func EncodeCommandTag(t CommandTag) []byte {
	switch t.Verb {
	case "rollback":
		return []byte("ROLLBACK")
	case "commit":
		return []byte("COMMIT")
	case "insert":
		if len(t.Nums) == 1 {
			return []byte("INSERT 0 " + strconv.FormatInt(t.Nums[0], 10))
		}
	case "select", "update", "delete", "fetch", "move", "copy":
		if len(t.Nums) == 1 {
			return []byte(strings.ToUpper(t.Verb) + " " + strconv.FormatInt(t.Nums[0], 10))
		}
	}
	if t.Object != "" {
		return []byte(strings.ToUpper(t.Verb) + " " + strings.ToUpper(t.Object))
	}
	return []byte(strings.ToUpper(t.Verb))
}
