package printer

import (
	"fmt"
	"strings"
	"sync"
)

// QueryEndstops reports the state of every rail endstop.
type QueryEndstops struct {
	printer *Printer
	rails   []*Rail

	mu        sync.RWMutex
	lastState map[string]bool
}

// NewQueryEndstops registers QUERY_ENDSTOPS and M119.
func NewQueryEndstops(p *Printer, rails []*Rail) (*QueryEndstops, error) {
	qe := &QueryEndstops{
		printer:   p,
		rails:     rails,
		lastState: make(map[string]bool),
	}
	g := p.GCode()
	if err := g.RegisterCommand("QUERY_ENDSTOPS", qe.cmdQueryEndstops, "Report on the status of each endstop"); err != nil {
		return nil, err
	}
	if err := g.RegisterCommand("M119", qe.cmdQueryEndstops, ""); err != nil {
		return nil, err
	}
	if err := p.AddObject("query_endstops", qe); err != nil {
		return nil, err
	}
	return qe, nil
}

// QueryAll queries every rail endstop. Any error aborts the query.
func (qe *QueryEndstops) QueryAll() (map[string]bool, error) {
	printTime := qe.printer.Monotonic()
	results := make(map[string]bool, len(qe.rails))
	for _, r := range qe.rails {
		e, name := r.GetEndstop()
		triggered, err := e.QueryEndstop(printTime)
		if err != nil {
			return nil, err
		}
		results[name] = triggered
	}

	qe.mu.Lock()
	qe.lastState = results
	qe.mu.Unlock()
	return results, nil
}

func (qe *QueryEndstops) cmdQueryEndstops(gcmd *Command) error {
	results, err := qe.QueryAll()
	if err != nil {
		return err
	}
	var parts []string
	for _, r := range qe.rails {
		_, name := r.GetEndstop()
		state := "open"
		if results[name] {
			state = "TRIGGERED"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", name, state))
	}
	gcmd.RespondInfo(strings.Join(parts, " "))
	return nil
}

// GetStatus returns the last query result.
func (qe *QueryEndstops) GetStatus(eventtime float64) map[string]any {
	qe.mu.RLock()
	defer qe.mu.RUnlock()
	lastQuery := make(map[string]any, len(qe.lastState))
	for k, v := range qe.lastState {
		lastQuery[k] = v
	}
	return map[string]any{"last_query": lastQuery}
}
