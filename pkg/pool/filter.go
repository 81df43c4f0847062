package pool

import (
	"path"
	"slices"
	"strings"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/task"
)

// parseTaskItem splits "point/name:state" or "name.point:state" into
// its parts. Point and state may be empty.
func parseTaskItem(item string) (point, name, state string) {
	head := item
	if i := strings.LastIndex(item, ":"); i >= 0 {
		head, state = item[:i], item[i+1:]
	}
	if pt, nm, ok := strings.Cut(head, "/"); ok {
		return pt, nm, state
	}
	if i := strings.LastIndex(head, "."); i >= 0 {
		return head[i+1:], head[:i], state
	}
	return "", head, state
}

// standardisePoint rewrites a literal point in canonical form ("007" ->
// "7"). Globs pass through.
func standardisePoint(s string) string {
	if pt, err := cycling.ParsePoint(s); err == nil {
		return pt.String()
	}
	return s
}

// FilterTaskProxies returns the tasks, in both pools, matched by items.
// An item is "[point/]name[:state]" or "name.point[:state]"; point and
// name may be globs, and the state "held" matches held tasks. No items
// matches every task. Items that match nothing are returned as bad.
func (p *Pool) FilterTaskProxies(items []string) ([]*task.Proxy, []string) {
	all := p.AllTasks()
	if len(items) == 0 {
		return all, nil
	}
	var (
		matched []*task.Proxy
		bad     []string
	)
	for _, item := range items {
		pointPat, namePat, state := parseTaskItem(item)
		if pointPat == "" {
			pointPat = "*"
		}
		pointPat = standardisePoint(pointPat)
		found := false
		valid := true
		for _, t := range all {
			okPoint, err := path.Match(pointPat, t.Point.String())
			if err != nil {
				valid = false
				break
			}
			okName, err := path.Match(namePat, t.Name)
			if err != nil {
				valid = false
				break
			}
			if !okPoint || !okName || !stateMatches(t, state) {
				continue
			}
			found = true
			if !slices.Contains(matched, t) {
				matched = append(matched, t)
			}
		}
		if !valid || !found {
			p.log.Warn("no matching tasks found", "item", item)
			bad = append(bad, item)
		}
	}
	return matched, bad
}

func stateMatches(t *task.Proxy, state string) bool {
	switch state {
	case "":
		return true
	case "held":
		return t.IsHeld()
	}
	ok, _ := path.Match(state, t.Status().String())
	return ok
}

// matchTaskNames returns the defined task names matched by the glob pat.
func (p *Pool) matchTaskNames(pat string) []string {
	var out []string
	for _, name := range p.cfg.TaskNames() {
		if ok, _ := path.Match(pat, name); ok {
			out = append(out, name)
		}
	}
	return out
}
