package filter

import (
	"regexp"

	"github.com/samber/lo"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// Pipeline applies the name pattern, exclusions and where clauses in that order
type Pipeline struct {
	pattern  *regexp.Regexp
	excludes []*regexp.Regexp
	where    *WhereFilter
}

// NewPipeline returns nil when there is nothing to filter on
func NewPipeline(pattern *regexp.Regexp, excludes []*regexp.Regexp, where *WhereFilter) *Pipeline {
	if pattern == nil && len(excludes) == 0 && where == nil {
		return nil
	}
	return &Pipeline{pattern: pattern, excludes: excludes, where: where}
}

// Match reports whether v passes every stage. A nil pipeline allows all.
func (p *Pipeline) Match(v *domain.VariableRecord) bool {
	if p == nil {
		return true
	}
	if p.pattern != nil && !p.pattern.MatchString(v.Name) {
		return false
	}
	for _, ex := range p.excludes {
		if ex.MatchString(v.Name) {
			return false
		}
	}
	return p.where.Match(v)
}

// Apply returns the variables that pass the pipeline
func (p *Pipeline) Apply(vars []domain.VariableRecord) []domain.VariableRecord {
	if p == nil {
		return vars
	}
	return lo.Filter(vars, func(v domain.VariableRecord, _ int) bool { return p.Match(&v) })
}
