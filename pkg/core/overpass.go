package core

import (
	"fmt"
	"strings"
)

// OverpassBuilder provides a fluent interface for building area-scoped
// Overpass API queries
type OverpassBuilder struct {
	outFormat      string
	timeout        int
	area           []TagFilter
	elementFilters []ElementFilter
	parents        bool
	children       bool
	output         string
}

// TagFilter represents a tag filter for Overpass queries
type TagFilter struct {
	Key    string
	Values []string
}

// ElementFilter represents a filter with tags for a specific element type
type ElementFilter struct {
	ElementType string // "node", "way", "relation", "nwr"
	Tags        []TagFilter
}

// NewOverpassBuilder creates a new builder with default settings
func NewOverpassBuilder() *OverpassBuilder {
	return &OverpassBuilder{
		outFormat: "json",
		timeout:   60,
		output:    "meta",
	}
}

// WithTimeout sets the query timeout
func (b *OverpassBuilder) WithTimeout(seconds int) *OverpassBuilder {
	b.timeout = seconds
	return b
}

// WithArea scopes every element filter to the area matching tags.
func (b *OverpassBuilder) WithArea(tags ...TagFilter) *OverpassBuilder {
	b.area = append(b.area, tags...)
	return b
}

// WithElement adds an element filter ("node", "way", "relation" or "nwr").
func (b *OverpassBuilder) WithElement(elementType string, tags ...TagFilter) *OverpassBuilder {
	b.elementFilters = append(b.elementFilters, ElementFilter{
		ElementType: elementType,
		Tags:        tags,
	})
	return b
}

// WithParents adds the ways and relations referencing the matched elements.
func (b *OverpassBuilder) WithParents() *OverpassBuilder {
	b.parents = true
	return b
}

// WithChildren adds the nodes and members of the matched elements.
func (b *OverpassBuilder) WithChildren() *OverpassBuilder {
	b.children = true
	return b
}

// WithOutput sets the out statement verbosity, e.g. "meta" or "meta bb".
func (b *OverpassBuilder) WithOutput(output string) *OverpassBuilder {
	b.output = output
	return b
}

// Tag creates a TagFilter for a key with optional values
func Tag(key string, values ...string) TagFilter {
	return TagFilter{
		Key:    key,
		Values: values,
	}
}

// Build generates the Overpass query string
func (b *OverpassBuilder) Build() string {
	var query strings.Builder

	query.WriteString(fmt.Sprintf("[out:%s][timeout:%d];", b.outFormat, b.timeout))

	areaSuffix := ""
	if len(b.area) > 0 {
		query.WriteString("area")
		for _, tag := range b.area {
			query.WriteString(buildTagFilter(tag))
		}
		query.WriteString("->.a;")
		areaSuffix = "(area.a)"
	}

	query.WriteString("(")
	for _, filter := range b.elementFilters {
		query.WriteString(filter.ElementType)
		for _, tag := range filter.Tags {
			query.WriteString(buildTagFilter(tag))
		}
		query.WriteString(areaSuffix)
		query.WriteString(";")
	}
	query.WriteString(")")

	if b.parents || b.children {
		query.WriteString("->.s;(.s;")
		if b.parents {
			query.WriteString(".s <;")
		}
		if b.children {
			query.WriteString(".s >;")
		}
		query.WriteString(")")
	}

	query.WriteString(";out ")
	query.WriteString(b.output)
	query.WriteString(";")

	return query.String()
}

// buildTagFilter generates the query part for a tag filter
func buildTagFilter(filter TagFilter) string {
	key := quote(filter.Key)

	switch {
	case len(filter.Values) == 0 || (len(filter.Values) == 1 && filter.Values[0] == "*"):
		return fmt.Sprintf("[%s]", key)
	case len(filter.Values) == 1:
		return fmt.Sprintf("[%s=%s]", key, quote(filter.Values[0]))
	}
	return fmt.Sprintf("[%s~%s]", key, quote(strings.Join(filter.Values, "|")))
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
