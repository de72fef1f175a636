package rtbr

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// taskStat is the subset of /proc/<tid>/stat poll_hard needs to tell a
// live, scheduled thread from a dead or reused one.
type taskStat struct {
	state      byte
	startTicks int64
	utime      uint64
	stime      uint64
}

// readTaskStat parses /proc/<tid>/stat. The comm field (2nd column) is
// parenthesized and may itself contain spaces or parens, so we locate the
// matching trailing ')' rather than splitting naively on spaces.
func readTaskStat(tid int32) (taskStat, error) {
	path := fmt.Sprintf("/proc/%d/stat", tid)
	f, err := os.Open(path)
	if err != nil {
		return taskStat{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 4096)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return taskStat{}, err
		}
		return taskStat{}, fmt.Errorf("rtbr: empty %s", path)
	}
	line := scanner.Text()

	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return taskStat{}, fmt.Errorf("rtbr: malformed %s", path)
	}

	rest := strings.Fields(line[close+2:])
	// rest[0] = state; fields are 1-indexed from state at column 3, so
	// column N (1-based) is rest[N-3].
	if len(rest) < 1 {
		return taskStat{}, fmt.Errorf("rtbr: truncated %s", path)
	}
	ts := taskStat{state: rest[0][0]}

	const (
		colUtime      = 14
		colStime      = 15
		colStarttime  = 22
	)
	if v, ok := field(rest, colUtime); ok {
		ts.utime, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := field(rest, colStime); ok {
		ts.stime, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := field(rest, colStarttime); ok {
		ts.startTicks, _ = strconv.ParseInt(v, 10, 64)
	}
	return ts, nil
}

func field(rest []string, column int) (string, bool) {
	idx := column - 3
	if idx < 0 || idx >= len(rest) {
		return "", false
	}
	return rest[idx], true
}

// taskAlive reports whether tid is still a live, schedulable task whose
// start time matches expectedStart (guarding against tid reuse — the ABA
// problem poll_hard exists to rule out).
func taskAlive(tid int32, expectedStart int64) (alive bool, stat taskStat, err error) {
	stat, err = readTaskStat(tid)
	if err != nil {
		if os.IsNotExist(err) {
			return false, taskStat{}, nil
		}
		return false, taskStat{}, err
	}
	if stat.startTicks != expectedStart {
		return false, stat, nil
	}
	return true, stat, nil
}
