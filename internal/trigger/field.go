package trigger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// fieldSet is the allowed-value set for one cron field. A nil *fieldSet means
// "any value".
type fieldSet struct {
	values []int // sorted, unique
}

func (f *fieldSet) contains(v int) bool {
	if f == nil {
		return true
	}
	i := sort.SearchInts(f.values, v)
	return i < len(f.values) && f.values[i] == v
}

// ceil returns the smallest allowed value >= v.
func (f *fieldSet) ceil(v int) (int, bool) {
	if f == nil {
		return v, true
	}
	i := sort.SearchInts(f.values, v)
	if i >= len(f.values) {
		return 0, false
	}
	return f.values[i], true
}

// dowNames maps day-of-week aliases (crontab convention: 0 = Sunday).
var dowNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// parseField parses a single cron field expression into an allowed-value set.
//
// Supported forms, combinable with commas:
//
//	"*"        any value (returns nil)
//	"7"        single value
//	"1-5"      inclusive range
//	"*/15"     step over the whole field range
//	"10-40/5"  step within a range
//
// names, when non-nil, allows lowercase aliases for single values and range
// bounds (used for day_of_week).
func parseField(name, expr string, min, max int, names map[string]int) (*fieldSet, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	if expr == "" || expr == "*" {
		return nil, nil
	}

	seen := map[int]struct{}{}
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty element in %s field %q", ErrInvalid, name, expr)
		}

		step := 1
		if base, stepStr, found := strings.Cut(part, "/"); found {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: bad step in %s field %q", ErrInvalid, name, part)
			}
			step = n
			part = base
		}

		lo, hi := min, max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			loStr, hiStr, _ := strings.Cut(part, "-")
			var err error
			if lo, err = parseFieldValue(loStr, names); err != nil {
				return nil, fmt.Errorf("%w: bad value %q in %s field", ErrInvalid, loStr, name)
			}
			if hi, err = parseFieldValue(hiStr, names); err != nil {
				return nil, fmt.Errorf("%w: bad value %q in %s field", ErrInvalid, hiStr, name)
			}
		default:
			v, err := parseFieldValue(part, names)
			if err != nil {
				return nil, fmt.Errorf("%w: bad value %q in %s field", ErrInvalid, part, name)
			}
			lo, hi = v, v
		}

		if lo > hi {
			return nil, fmt.Errorf("%w: inverted range %q in %s field", ErrInvalid, part, name)
		}
		if lo < min || hi > max {
			return nil, fmt.Errorf("%w: %s field %q out of range %d-%d", ErrInvalid, name, part, min, max)
		}
		for v := lo; v <= hi; v += step {
			seen[v] = struct{}{}
		}
	}

	values := make([]int, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Ints(values)
	return &fieldSet{values: values}, nil
}

func parseFieldValue(s string, names map[string]int) (int, error) {
	s = strings.TrimSpace(s)
	if names != nil {
		if v, ok := names[s]; ok {
			return v, nil
		}
	}
	return strconv.Atoi(s)
}
