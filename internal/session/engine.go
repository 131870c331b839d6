package session

import (
	"cmp"
	"slices"
	"time"

	"vpn-session-monitor/internal/conntrack"
)

// Cycle is the input of one Advance call.
type Cycle struct {
	Time time.Time
	// Available is false when no snapshot could be taken this cycle. Flows
	// is then ignored and every live session is stopped.
	Available bool
	Flows     []conntrack.Flow
}

// Result is what one Advance call did to the table.
type Result struct {
	Time      time.Time
	Available bool
	// Flows is the number of flows looked at.
	Flows    int
	Started  []Record
	Updated  int
	Stopped  []Stopped
	Rejected map[Verdict]int
	// Active is the table size after pruning.
	Active int
}

// Engine owns the session table. It has no clock and no I/O: each Advance
// call folds one snapshot in and reports the transitions.
//
// Engine is not safe for concurrent use.
type Engine struct {
	dir   Directory
	table map[Key]*Record
}

func NewEngine(dir Directory) *Engine {
	return &Engine{dir: dir, table: make(map[Key]*Record)}
}

// Advance folds c into the table and prunes every session whose key was
// not observed in c.
//
// A flow whose key already has a session only refreshes its counters; the
// peer and resource match is not re-validated, so a directory change never
// evicts a live session and only affects flows that have none yet.
func (e *Engine) Advance(c Cycle) Result {
	res := Result{
		Time:      c.Time,
		Available: c.Available,
		Rejected:  make(map[Verdict]int),
	}

	observed := make(map[Key]struct{})
	if c.Available {
		res.Flows = len(c.Flows)
		for _, f := range c.Flows {
			k := KeyOf(f)
			if r, ok := e.table[k]; ok {
				r.setCounters(f)
				if _, seen := observed[k]; !seen {
					res.Updated++
				}
				observed[k] = struct{}{}
				continue
			}

			m := Classify(f, e.dir)
			if !m.Matched() {
				res.Rejected[m.Verdict]++
				continue
			}
			r := newRecord(f, m, c.Time)
			e.table[k] = r
			res.Started = append(res.Started, *r)
			observed[k] = struct{}{}
		}
	}

	for k, r := range e.table {
		if _, ok := observed[k]; ok {
			continue
		}
		res.Stopped = append(res.Stopped, Stopped{Record: *r, Duration: r.Age(c.Time)})
		delete(e.table, k)
	}
	slices.SortFunc(res.Stopped, func(a, b Stopped) int {
		return cmp.Or(a.Start.Compare(b.Start), compareKeys(a.Key, b.Key))
	})

	res.Active = len(e.table)
	return res
}

// Sessions returns a copy of the live sessions ordered by start time.
func (e *Engine) Sessions() []Record {
	out := make([]Record, 0, len(e.table))
	for _, r := range e.table {
		out = append(out, *r)
	}
	sortRecords(out)
	return out
}

// Len is the number of live sessions.
func (e *Engine) Len() int {
	return len(e.table)
}
