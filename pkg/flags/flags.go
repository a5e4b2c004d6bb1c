// Package flags implements the Request-Flag Pipeline (C4, spec.md §4.4):
// parsing of filter/sort/inline/doc/collections/epoch/schema/noepoch/
// noreadonly/specversion/limit/offset query flags, and the two-phase
// (index-predicate, then bounded-enrichment) filtering spec.md §9 calls for
// in place of the source's "run handler, fall back on error" recursion.
package flags

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DefaultEnrichmentCap bounds how many Resources may be fetched for
// attribute filtering beyond the cheap name index (spec.md §4.4).
const DefaultEnrichmentCap = 20

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Clause is one attr<op>value predicate.
type Clause struct {
	Attr  string
	Op    Op
	Value string
}

// Group is a set of Clauses joined by AND (one `filter=` occurrence).
type Group []Clause

// SortSpec is a parsed `sort=attr[=asc|desc]` flag.
type SortSpec struct {
	Attr       string
	Descending bool
}

// Flags holds every parsed request flag (spec.md §4.4 table).
type Flags struct {
	Filters      []Group
	Sort         *SortSpec
	Inline       []string
	InlineAll    bool
	Doc          bool
	Collections  *bool
	Epoch        *uint
	Schema       bool
	NoEpoch      bool
	NoReadOnly   bool
	NoSpecVersion bool
	Limit        int
	Offset       int
	HasLimit     bool
}

// knownInlinePaths is the whitelist spec.md §9 requires ("Cyclic expansion
// via inline=*" — refuse unknown paths rather than dereferencing blindly).
var knownInlinePaths = map[string]bool{
	"versions":  true,
	"meta":      true,
	"model":     true,
	"endpoints": true,
}

// WantsInline reports whether path was named in `inline=` (or `inline=*`
// was given), per spec.md §4.4/§4.5's "Versions are not inlined unless
// inline=versions or *".
func (f Flags) WantsInline(path string) bool {
	if f.InlineAll {
		return true
	}
	for _, p := range f.Inline {
		if p == path {
			return true
		}
	}
	return false
}

// Parse extracts and validates every recognized flag from r's query string.
// Invalid `limit` or a malformed filter expression return an error the
// caller should surface as 400 invalid_data (spec.md §7).
func Parse(r *http.Request) (Flags, error) {
	q := r.URL.Query()
	var f Flags

	for _, raw := range q["filter"] {
		group, err := parseGroup(raw)
		if err != nil {
			return Flags{}, fmt.Errorf("invalid filter %q: %w", raw, err)
		}
		f.Filters = append(f.Filters, group)
	}

	if raw := q.Get("sort"); raw != "" {
		spec, err := parseSort(raw)
		if err != nil {
			return Flags{}, err
		}
		f.Sort = spec
	}

	if raw := q.Get("inline"); raw != "" {
		for _, path := range strings.Split(raw, ",") {
			path = strings.TrimSpace(path)
			if path == "*" {
				f.InlineAll = true
				continue
			}
			if !knownInlinePaths[path] {
				return Flags{}, fmt.Errorf("unknown inline path %q", path)
			}
			f.Inline = append(f.Inline, path)
		}
	}

	if raw := q.Get("doc"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Flags{}, fmt.Errorf("invalid doc flag %q", raw)
		}
		f.Doc = v
	}

	if raw := q.Get("collections"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Flags{}, fmt.Errorf("invalid collections flag %q", raw)
		}
		f.Collections = &v
	}

	if raw := q.Get("epoch"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Flags{}, fmt.Errorf("invalid epoch %q", raw)
		}
		u := uint(v)
		f.Epoch = &u
	}

	if raw := q.Get("schema"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Flags{}, fmt.Errorf("invalid schema flag %q", raw)
		}
		f.Schema = v
	}

	if _, ok := q["noepoch"]; ok {
		f.NoEpoch = true
	}
	if _, ok := q["noreadonly"]; ok {
		f.NoReadOnly = true
	}
	if raw := q.Get("specversion"); raw == "false" {
		f.NoSpecVersion = true
	}

	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return Flags{}, fmt.Errorf("invalid limit %q: must be a positive integer", raw)
		}
		f.Limit = v
		f.HasLimit = true
	}

	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return Flags{}, fmt.Errorf("invalid offset %q", raw)
		}
		f.Offset = v
	}

	return f, nil
}

func parseGroup(raw string) (Group, error) {
	var group Group
	for _, clauseStr := range strings.Split(raw, ",") {
		clause, err := parseClause(clauseStr)
		if err != nil {
			return nil, err
		}
		group = append(group, clause)
	}
	return group, nil
}

var operatorOrder = []Op{OpLte, OpGte, OpNeq, OpEq, OpLt, OpGt}

func parseClause(s string) (Clause, error) {
	for _, op := range operatorOrder {
		if idx := strings.Index(s, string(op)); idx >= 0 {
			return Clause{
				Attr:  strings.TrimSpace(s[:idx]),
				Op:    op,
				Value: strings.TrimSpace(s[idx+len(op):]),
			}, nil
		}
	}
	return Clause{}, fmt.Errorf("no recognized operator in clause %q", s)
}

func parseSort(raw string) (*SortSpec, error) {
	parts := strings.SplitN(raw, "=", 2)
	spec := &SortSpec{Attr: parts[0]}
	if len(parts) == 2 {
		switch strings.ToLower(parts[1]) {
		case "asc", "":
			spec.Descending = false
		case "desc":
			spec.Descending = true
		default:
			return nil, fmt.Errorf("invalid sort direction %q", parts[1])
		}
	}
	return spec, nil
}

// HasNameClause reports whether at least one Group contains a `name`
// clause, the mandatory-clause invariant of spec.md §4.4/§8 property 5.
func HasNameClause(groups []Group) bool {
	for _, g := range groups {
		for _, c := range g {
			if c.Attr == "name" {
				return true
			}
		}
	}
	return false
}

// Match evaluates groups (OR across groups, AND within a group) against
// record, a dotted-path attribute lookup function.
func Match(groups []Group, lookup func(attr string) (string, bool)) bool {
	if len(groups) == 0 {
		return true
	}
	for _, group := range groups {
		if matchGroup(group, lookup) {
			return true
		}
	}
	return false
}

func matchGroup(group Group, lookup func(attr string) (string, bool)) bool {
	for _, clause := range group {
		val, ok := lookup(clause.Attr)
		if !ok {
			return false
		}
		if !evalClause(clause, val) {
			return false
		}
	}
	return true
}

func evalClause(c Clause, actual string) bool {
	if strings.Contains(c.Value, "*") && (c.Op == OpEq || c.Op == OpNeq) {
		matched := globMatch(c.Value, actual)
		if c.Op == OpNeq {
			return !matched
		}
		return matched
	}
	switch c.Op {
	case OpEq:
		return strings.EqualFold(actual, c.Value)
	case OpNeq:
		return !strings.EqualFold(actual, c.Value)
	case OpLt:
		return actual < c.Value
	case OpLte:
		return actual <= c.Value
	case OpGt:
		return actual > c.Value
	case OpGte:
		return actual >= c.Value
	}
	return false
}

// globMatch implements case-insensitive "*"-wildcard matching (spec.md
// §4.4 "Values may contain * glob wildcards with case-insensitive match").
func globMatch(pattern, value string) bool {
	pattern = strings.ToLower(pattern)
	value = strings.ToLower(value)
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == value
	}
	if !strings.HasPrefix(value, segments[0]) {
		return false
	}
	value = value[len(segments[0]):]
	for i := 1; i < len(segments)-1; i++ {
		idx := strings.Index(value, segments[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(segments[i]):]
	}
	last := segments[len(segments)-1]
	return strings.HasSuffix(value, last)
}

// SortStable sorts items by spec's dotted attribute path, stable, with
// unknown paths sorting as "" (spec.md §4.4, §8 property 6).
func SortStable(items []string, spec *SortSpec, lookup func(item, attr string) (string, bool)) {
	if spec == nil {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		vi, _ := lookup(items[i], spec.Attr)
		vj, _ := lookup(items[j], spec.Attr)
		if spec.Descending {
			return vi > vj
		}
		return vi < vj
	})
}

// Paginate computes the [start,end) slice window for limit/offset against
// n total items (spec.md §8 property 4). limit<=0 means "no limit".
func Paginate(n, limit, offset int) (start, end int) {
	start = offset
	if start > n {
		start = n
	}
	if limit <= 0 {
		return start, n
	}
	end = start + limit
	if end > n {
		end = n
	}
	return start, end
}

// PageCount returns ceil(n/limit), the total page count of spec.md §8
// property 4.
func PageCount(n, limit int) int {
	if limit <= 0 {
		if n == 0 {
			return 0
		}
		return 1
	}
	return (n + limit - 1) / limit
}

// LinkHeader builds the RFC 5988 Link header value for the first/prev/
// next/last pagination set (spec.md §4.5 step 4, §6).
func LinkHeader(baseURL string, n, limit, offset int) string {
	if limit <= 0 {
		limit = n
	}
	build := func(o int) string {
		u, err := url.Parse(baseURL)
		if err != nil {
			return baseURL
		}
		q := u.Query()
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(o))
		u.RawQuery = q.Encode()
		return u.String()
	}

	lastOffset := 0
	pages := PageCount(n, limit)
	if pages > 0 {
		lastOffset = (pages - 1) * limit
	}

	parts := []string{
		fmt.Sprintf(`<%s>; rel="first"; count="%d"; per-page="%d"`, build(0), n, limit),
	}
	if offset > 0 {
		prevOffset := offset - limit
		if prevOffset < 0 {
			prevOffset = 0
		}
		parts = append(parts, fmt.Sprintf(`<%s>; rel="prev"; count="%d"; per-page="%d"`, build(prevOffset), n, limit))
	}
	if offset+limit < n {
		parts = append(parts, fmt.Sprintf(`<%s>; rel="next"; count="%d"; per-page="%d"`, build(offset+limit), n, limit))
	}
	parts = append(parts, fmt.Sprintf(`<%s>; rel="last"; count="%d"; per-page="%d"`, build(lastOffset), n, limit))
	return strings.Join(parts, ", ")
}

// StripTopLevel removes top-level properties per noepoch/noreadonly/
// specversion=false (spec.md §4.4).
func StripTopLevel(doc map[string]interface{}, f Flags) {
	if f.NoEpoch {
		delete(doc, "epoch")
	}
	if f.NoReadOnly {
		delete(doc, "readonly")
	}
	if f.NoSpecVersion {
		delete(doc, "specversion")
	}
}

// ApplyCollections implements `collections=false|true` (spec.md §4.4):
// false removes every "*url" key; true keeps only the collection maps.
func ApplyCollections(doc map[string]interface{}, f Flags) {
	if f.Collections == nil {
		return
	}
	if *f.Collections {
		kept := map[string]interface{}{}
		for k, v := range doc {
			if strings.HasSuffix(k, "s") {
				if _, isMap := v.(map[string]interface{}); isMap {
					kept[k] = v
				}
			}
		}
		for k := range doc {
			if _, stillThere := kept[k]; !stillThere {
				delete(doc, k)
			}
		}
		return
	}
	for k := range doc {
		if strings.HasSuffix(k, "url") {
			delete(doc, k)
		}
	}
}
