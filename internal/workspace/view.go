package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// viewKeyLen is the hex length of a view cache key.
const viewKeyLen = 12

// Filter keeps the rows whose cell in Column equals any of Values.
type Filter struct {
	Column string   `json:"column"`
	Values []string `json:"values"`
}

// Sort orders rows by the string value of Column.
type Sort struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// View is a filter+sort tuple identifying a derived workspace.
// The zero View is the raw workspace.
type View struct {
	Filters []Filter
	Sort    *Sort
}

// IsRaw reports whether the view is the unfiltered, unsorted workspace.
func (v View) IsRaw() bool {
	return len(v.Filters) == 0 && v.Sort == nil
}

// Key returns the cache key of the view. The raw workspace keys to the
// empty string.
func (v View) Key() string {
	if v.IsRaw() {
		return ""
	}

	return hashKey(v.canonical(true))
}

// FilterKey returns the key of the same filters without the sort. A table
// cached under it can serve the full view after an in-memory sort.
func (v View) FilterKey() string {
	if len(v.Filters) == 0 {
		return ""
	}

	return hashKey(v.canonical(false))
}

// canonical serializes the view deterministically. Lengths are embedded so
// distinct tuples never collide by concatenation.
func (v View) canonical(withSort bool) string {
	var b strings.Builder

	for _, f := range v.Filters {
		b.WriteString("f:")
		writeToken(&b, f.Column)

		for _, val := range f.Values {
			writeToken(&b, val)
		}

		b.WriteByte(';')
	}

	if withSort && v.Sort != nil {
		b.WriteString("s:")
		writeToken(&b, v.Sort.Column)
		b.WriteString(strconv.FormatBool(v.Sort.Descending))
	}

	return b.String()
}

func writeToken(b *strings.Builder, token string) {
	b.WriteString(strconv.Itoa(len(token)))
	b.WriteByte('|')
	b.WriteString(token)
}

func hashKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))

	return hex.EncodeToString(sum[:])[:viewKeyLen]
}
