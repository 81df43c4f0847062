package suite

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
)

// reGraphItem matches one graph node: an optional suicide marker, a task
// name, an optional [offset] and an optional :output.
var reGraphItem = regexp.MustCompile(`^(!)?([A-Za-z_][\w\-]*)(?:\[([^\]]*)\])?(?::([\w\-]+))?$`)

// graphItem is one parsed node of a graph line.
type graphItem struct {
	suicide  bool
	name     string
	offset   string
	output   string
	absolute bool
	abs      cycling.Point
	rel      cycling.Interval
}

// graphPart is one side of a "=>" arrow.
type graphPart struct {
	items []graphItem
	any   bool
}

// graphLines splits a graph section into logical lines, dropping blank
// lines and comments and joining lines that end in an operator.
func graphLines(text string) []string {
	var out []string
	var cur strings.Builder
	for _, raw := range strings.Split(text, "\n") {
		line := raw
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(line)
		if strings.HasSuffix(line, "=>") || strings.HasSuffix(line, "&") || strings.HasSuffix(line, "|") {
			continue
		}
		out = append(out, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// parseGraphLine splits "a & b => c => d" into its arrow-separated parts.
func parseGraphLine(line string, initial cycling.Point) ([]graphPart, error) {
	var parts []graphPart
	for _, side := range strings.Split(line, "=>") {
		part, err := parseGraphPart(strings.TrimSpace(side), initial)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", line, err)
		}
		parts = append(parts, part)
	}
	for i, part := range parts {
		for _, it := range part.items {
			if i == 0 && it.suicide {
				return nil, fmt.Errorf("%w: %q: suicide marker on trigger %s", ErrInvalid, line, it.name)
			}
			if i > 0 && it.offset != "" {
				return nil, fmt.Errorf("%w: %q: offset on triggered task %s", ErrInvalid, line, it.name)
			}
		}
	}
	return parts, nil
}

func parseGraphPart(side string, initial cycling.Point) (graphPart, error) {
	if side == "" {
		return graphPart{}, fmt.Errorf("%w: empty graph expression", ErrInvalid)
	}
	hasAnd := strings.Contains(side, "&")
	hasOr := strings.Contains(side, "|")
	if hasAnd && hasOr {
		return graphPart{}, fmt.Errorf("%w: mixed & and | in %q", ErrInvalid, side)
	}
	sep := "&"
	if hasOr {
		sep = "|"
	}
	part := graphPart{any: hasOr}
	for _, tok := range strings.Split(side, sep) {
		it, err := parseGraphItem(strings.TrimSpace(tok), initial)
		if err != nil {
			return graphPart{}, err
		}
		part.items = append(part.items, it)
	}
	return part, nil
}

func parseGraphItem(tok string, initial cycling.Point) (graphItem, error) {
	m := reGraphItem.FindStringSubmatch(tok)
	if m == nil {
		return graphItem{}, fmt.Errorf("%w: illegal graph item %q", ErrInvalid, tok)
	}
	it := graphItem{
		suicide: m[1] == "!",
		name:    m[2],
		offset:  strings.TrimSpace(m[3]),
		output:  m[4],
	}
	if it.output == "" {
		it.output = model.OutputSucceeded
	} else {
		it.output = model.NormalizeOutput(it.output)
	}
	switch {
	case it.offset == "":
	case strings.HasPrefix(it.offset, "^"):
		it.absolute = true
		it.abs = initial
		if rest := it.offset[1:]; rest != "" {
			i, err := cycling.ParseInterval(rest)
			if err != nil {
				return graphItem{}, fmt.Errorf("%w: %q: %v", ErrInvalid, tok, err)
			}
			it.abs = initial.Add(i)
		}
	case cycling.IsRelative(it.offset):
		i, err := cycling.ParseInterval(it.offset)
		if err != nil {
			return graphItem{}, fmt.Errorf("%w: %q: %v", ErrInvalid, tok, err)
		}
		it.rel = i
	default:
		p, err := cycling.ParsePoint(it.offset)
		if err != nil {
			return graphItem{}, fmt.Errorf("%w: %q: %v", ErrInvalid, tok, err)
		}
		it.absolute = true
		it.abs = p
	}
	return it, nil
}

func (it graphItem) trigger() model.Trigger {
	return model.Trigger{
		Task:     it.name,
		Output:   it.output,
		Offset:   it.rel,
		Absolute: it.absolute,
		AbsPoint: it.abs,
	}
}
