//go:build !windows

package process

import (
	"fmt"
	"strconv"
	"strings"
)

func statPath(pid int) string {
	return fmt.Sprintf("/proc/%d/stat", pid)
}

// splitStatFields parses /proc/[pid]/stat, which wraps the command name in
// parens and may itself contain spaces, so the comm field can't be split on
// whitespace directly.
func splitStatFields(line string) []string {
	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return strings.Fields(line)
	}
	comm := line[open+1 : close]
	rest := strings.Fields(line[close+1:])
	fields := []string{"pid", comm}
	fields = append(fields, rest...)
	return fields
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
