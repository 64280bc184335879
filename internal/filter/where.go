package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// WhereClause represents a parsed --where condition
type WhereClause struct {
	Field    string
	Operator string
	Value    string
	regex    *regexp.Regexp // Compiled regex for ~ and !~ operators
}

// ParseWhereClause parses a where clause like "type=DataFrame" or "count>=10".
// Supported operators: =, !=, ~, !~, >=, <=, ^, $
func ParseWhereClause(clause string) (*WhereClause, error) {
	// Longest first to avoid partial matches
	operators := []string{"!~", ">=", "<=", "!=", "~", "=", "^", "$"}

	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx <= 0 {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(clause[:idx]))
		value := strings.TrimSpace(clause[idx+len(op):])
		if field == "" || value == "" {
			return nil, fmt.Errorf("invalid where clause: %s", clause)
		}

		wc := &WhereClause{Field: field, Operator: op, Value: value}
		switch op {
		case "~", "!~":
			re, err := regexp.Compile(value)
			if err != nil {
				return nil, fmt.Errorf("invalid regex in where clause '%s': %w", clause, err)
			}
			wc.regex = re
		case ">=", "<=":
			if !numericField(field) {
				return nil, fmt.Errorf("operator %s needs a numeric field (count, size, rows), got %q", op, field)
			}
			if _, err := strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("invalid number in where clause '%s': %w", clause, err)
			}
		}
		return wc, nil
	}

	return nil, fmt.Errorf("no valid operator found in where clause: %s (use =, !=, ~, !~, >=, <=, ^, $)", clause)
}

// Match checks if a variable matches this where clause
func (wc *WhereClause) Match(v *domain.VariableRecord) bool {
	fieldValue := wc.fieldValue(v)

	switch wc.Operator {
	case "=":
		return fieldValue == wc.Value
	case "!=":
		return fieldValue != wc.Value
	case "~":
		return wc.regex.MatchString(fieldValue)
	case "!~":
		return !wc.regex.MatchString(fieldValue)
	case "^":
		return strings.HasPrefix(fieldValue, wc.Value)
	case "$":
		return strings.HasSuffix(fieldValue, wc.Value)
	case ">=", "<=":
		n, _ := strconv.Atoi(fieldValue)
		limit, _ := strconv.Atoi(wc.Value)
		if wc.Operator == ">=" {
			return n >= limit
		}
		return n <= limit
	}
	return false
}

func (wc *WhereClause) fieldValue(v *domain.VariableRecord) string {
	switch wc.Field {
	case "name":
		return v.Name
	case "type":
		return v.Type
	case "value":
		return v.Value
	case "shape":
		return v.Shape
	case "count":
		return strconv.Itoa(v.Count)
	case "size":
		return strconv.Itoa(v.Size)
	case "rows":
		return strconv.Itoa(v.RowCount)
	case "explorer":
		return strconv.FormatBool(v.SupportsDataExplorer)
	default:
		return ""
	}
}

func numericField(field string) bool {
	return field == "count" || field == "size" || field == "rows"
}

// WhereFilter applies multiple where clauses (AND logic)
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter creates a filter from multiple where clause strings.
// No clauses yields a nil filter.
func NewWhereFilter(whereClauses []string) (*WhereFilter, error) {
	if len(whereClauses) == 0 {
		return nil, nil
	}

	filter := &WhereFilter{}
	for _, clause := range whereClauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		filter.clauses = append(filter.clauses, wc)
	}
	return filter, nil
}

// Match returns true if the variable matches ALL where clauses
func (f *WhereFilter) Match(v *domain.VariableRecord) bool {
	if f == nil {
		return true
	}
	for _, clause := range f.clauses {
		if !clause.Match(v) {
			return false
		}
	}
	return true
}
