package postgres

import (
	"strconv"
	"strings"
)

// maxBulkRows keeps multi-row inserts well under the Postgres bind parameter limit
const maxBulkRows = 1000

// valuesClause renders "($1, $2), ($3, $4)" for rows*cols placeholders
func valuesClause(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// chunks splits n items into [start, end) windows of at most size
func chunks(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
