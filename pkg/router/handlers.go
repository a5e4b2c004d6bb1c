package router

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/codec"
	"github.com/ociregistryx/wrapper/pkg/flags"
	"github.com/ociregistryx/wrapper/pkg/policy"
	"github.com/ociregistryx/wrapper/pkg/problem"
	"github.com/ociregistryx/wrapper/pkg/projector"
	"github.com/ociregistryx/wrapper/pkg/schemavalidate"
	"github.com/ociregistryx/wrapper/pkg/upstream"
	"github.com/ociregistryx/wrapper/pkg/xr"
)

func (rt *Router) handleRoot(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	doc := buildRegistryDoc(rt.Backends, rt.BaseURL, now)

	f, err := flags.Parse(r)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
		return
	}
	// "containerregistries" has no dedicated inline path name (spec.md §4.4
	// whitelists only versions/meta/model/endpoints); it is only reachable
	// via inline=*.
	if f.InlineAll {
		doc.ContainerRegistries = make(map[string]xr.GroupDoc, rt.Backends.Len())
		for _, b := range rt.Backends.All() {
			count, _ := rt.resourceCountFor(r.Context(), b)
			doc.ContainerRegistries[b.Name] = buildGroupDoc(b, rt.BaseURL, now, count)
		}
	}

	rt.writeEntity(w, r, doc, schemavalidate.EntityRegistry, doc.Epoch)
}

// capabilities is a static document describing the flags/pagination this
// façade supports (spec.md §8 S1 "capabilities.pagination == true").
func (rt *Router) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"pagination": true,
		"flags": []string{
			"filter", "sort", "inline", "doc", "collections",
			"epoch", "schema", "noepoch", "noreadonly", "specversion",
			"limit", "offset",
		},
		"mutable": false,
	}
	rt.writeJSON(w, r, body, http.StatusOK)
}

// model is a static document describing the Registry→Group→Resource→Version
// shape this façade implements.
func (rt *Router) handleModel(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"groups": map[string]interface{}{
			xr.GroupsType: map[string]interface{}{
				"resources": map[string]interface{}{
					xr.ResourceType: map[string]interface{}{
						"versions": true,
					},
				},
			},
		},
	}
	rt.writeJSON(w, r, body, http.StatusOK)
}

func (rt *Router) handleGroupsCollection(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	out := make(map[string]xr.GroupDoc, rt.Backends.Len())
	for _, b := range rt.Backends.All() {
		count, err := rt.resourceCountFor(r.Context(), b)
		if err != nil {
			out[b.Name] = buildGroupDoc(b, rt.BaseURL, now, 0)
			continue
		}
		out[b.Name] = buildGroupDoc(b, rt.BaseURL, now, count)
	}
	rt.writeJSON(w, r, out, http.StatusOK)
}

func (rt *Router) resourceCountFor(ctx context.Context, b backend.Backend) (int, error) {
	names, err := FetchCatalog(ctx, rt.Upstream, b)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (rt *Router) handleGroup(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["group"]
	b, ok := rt.Backends.Get(name)
	if !ok {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "backend "+name+" was not found"), rt.DevMode)
		return
	}
	count, err := rt.resourceCountFor(r.Context(), b)
	if err != nil {
		rt.writeUpstreamError(w, r, err)
		return
	}
	now := time.Now()
	doc := buildGroupDoc(b, rt.BaseURL, now, count)

	f, err := flags.Parse(r)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
		return
	}
	// Same reasoning as handleRoot: "images" is only reachable via inline=*.
	// Each entry gets tags/default-tag (cheap) but not recursive version
	// projection, keeping inline=* bounded the way spec.md §9's cyclic-
	// expansion note intends.
	if f.InlineAll {
		names, err := FetchCatalog(r.Context(), rt.Upstream, b)
		if err == nil {
			doc.Images = make(map[string]xr.ResourceDoc, len(names))
			for _, n := range names {
				c := &candidate{name: n}
				rt.fetchTags(r.Context(), b, c)
				doc.Images[codec.EncodeImageName(n)] = buildResourceDoc(b, n, c.default_, len(c.tags), rt.BaseURL, now)
			}
		}
	}

	rt.writeEntity(w, r, doc, "", doc.Epoch)
}

// candidate is a lightweight catalog-index record, enriched lazily.
type candidate struct {
	name     string
	tags     []string
	default_ string
	result   *projector.Result
}

func (rt *Router) handleResourcesCollection(w http.ResponseWriter, r *http.Request) {
	groupName := mux.Vars(r)["group"]
	b, ok := rt.Backends.Get(groupName)
	if !ok {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "backend "+groupName+" was not found"), rt.DevMode)
		return
	}

	f, err := flags.Parse(r)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
		return
	}

	names, err := FetchCatalog(r.Context(), rt.Upstream, b)
	if err != nil {
		rt.writeUpstreamError(w, r, err)
		return
	}

	candidates := make([]*candidate, 0, len(names))
	for _, n := range names {
		candidates = append(candidates, &candidate{name: n})
	}

	if len(f.Filters) > 0 {
		if !flags.HasNameClause(f.Filters) {
			candidates = nil
		} else {
			candidates = rt.applyFilters(r.Context(), b, candidates, f)
		}
	}

	candidates = rt.applyPolicyFilter(r.Context(), b, candidates)

	items := make([]string, len(candidates))
	byName := make(map[string]*candidate, len(candidates))
	for i, c := range candidates {
		items[i] = c.name
		byName[c.name] = c
	}

	if f.Sort != nil {
		flags.SortStable(items, f.Sort, func(item, attr string) (string, bool) {
			return lookupAttr(byName[item], attr)
		})
	}

	total := len(items)
	limit := f.Limit
	start, end := flags.Paginate(total, limit, f.Offset)
	page := items[start:end]

	out := make(map[string]xr.ResourceDoc, len(page))
	now := time.Now()
	for _, name := range page {
		c := byName[name]
		if c.tags == nil {
			rt.fetchTags(r.Context(), b, c)
		}
		resourceDoc := buildResourceDoc(b, name, c.default_, len(c.tags), rt.BaseURL, now)
		rt.inlineResource(r.Context(), b, name, c.tags, c.default_, f, &resourceDoc)
		out[codec.EncodeImageName(name)] = resourceDoc
	}

	if f.HasLimit || total > 0 {
		w.Header().Set("Link", flags.LinkHeader(rt.BaseURL+r.URL.Path, total, limit, f.Offset))
	}
	rt.writeJSON(w, r, out, http.StatusOK)
}

func (rt *Router) applyPolicyFilter(ctx context.Context, b backend.Backend, candidates []*candidate) []*candidate {
	if rt.Policy == nil {
		return candidates
	}
	out := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		allowed, _, err := rt.Policy.Allow(ctx, policy.Input{Backend: b.Name, Repository: c.name, Namespace: namespaceOf(c.name)})
		if err == nil && !allowed {
			continue
		}
		out = append(out, c)
	}
	return out
}

func namespaceOf(repo string) string {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i]
		}
	}
	return repo
}

// applyFilters implements spec.md §4.4's two-phase filtering: a cheap
// name-only pass, followed by a bounded enrichment pass for any clause
// beyond `name`.
func (rt *Router) applyFilters(ctx context.Context, b backend.Backend, candidates []*candidate, f flags.Flags) []*candidate {
	nameOnly := make([]flags.Group, len(f.Filters))
	hasOtherAttr := false
	for i, g := range f.Filters {
		var kept flags.Group
		for _, c := range g {
			if c.Attr == "name" {
				kept = append(kept, c)
			} else {
				hasOtherAttr = true
			}
		}
		nameOnly[i] = kept
	}

	phase1 := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		if flags.Match(nameOnly, func(attr string) (string, bool) {
			return lookupAttr(c, attr)
		}) {
			phase1 = append(phase1, c)
		}
	}

	if !hasOtherAttr {
		return phase1
	}

	enrichCap := rt.EnrichmentCap
	if enrichCap <= 0 || enrichCap > len(phase1) {
		enrichCap = len(phase1)
	}
	out := make([]*candidate, 0, enrichCap)
	for i := 0; i < enrichCap; i++ {
		c := phase1[i]
		rt.enrich(ctx, b, c)
		if flags.Match(f.Filters, func(attr string) (string, bool) {
			return lookupAttr(c, attr)
		}) {
			out = append(out, c)
		}
	}
	return out
}

// fetchTags populates a candidate's tags/default tag — the cheap step every
// collection entry needs regardless of filtering.
func (rt *Router) fetchTags(ctx context.Context, b backend.Backend, c *candidate) {
	tags, err := FetchTags(ctx, rt.Upstream, b, c.name)
	if err != nil {
		c.tags = []string{}
		return
	}
	c.tags = tags
	c.default_ = DefaultTag(tags)
}

// enrich additionally projects the default version's metadata — the
// expensive step the bounded enrichment pass of spec.md §4.4 pays only for
// candidates an attribute filter actually needs to inspect.
func (rt *Router) enrich(ctx context.Context, b backend.Backend, c *candidate) {
	if c.tags == nil {
		rt.fetchTags(ctx, b, c)
	}
	if c.default_ == "" {
		return
	}
	result, err := projector.Project(ctx, rt.Upstream, b, c.name, c.default_)
	if err == nil {
		c.result = result
	}
}

func lookupAttr(c *candidate, attr string) (string, bool) {
	if c == nil {
		return "", false
	}
	switch attr {
	case "name":
		return c.name, true
	case "versionid":
		if c.default_ == "" {
			return "", false
		}
		return c.default_, true
	}
	if c.result == nil {
		return "", false
	}
	switch attr {
	case "architecture":
		return c.result.Architecture, c.result.Architecture != ""
	case "os":
		return c.result.OS, c.result.OS != ""
	case "description":
		return c.result.Description, c.result.Description != ""
	}
	return "", false
}

func (rt *Router) handleResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, ok := rt.Backends.Get(vars["group"])
	if !ok {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "backend "+vars["group"]+" was not found"), rt.DevMode)
		return
	}
	imageName := codec.DecodeImageName(vars["id"])

	tags, err := FetchTags(r.Context(), rt.Upstream, b, imageName)
	if err != nil {
		rt.writeUpstreamError(w, r, err)
		return
	}
	defaultTag := DefaultTag(tags)
	if defaultTag == "" {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "image "+imageName+" was not found"), rt.DevMode)
		return
	}

	doc := buildResourceDoc(b, imageName, defaultTag, len(tags), rt.BaseURL, time.Now())

	f, err := flags.Parse(r)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
		return
	}
	if f.Epoch != nil && *f.Epoch != doc.Epoch {
		problem.Write(w, r, problem.New(problem.KindEpochError, fmt.Sprintf("expected epoch %d, got %d", doc.Epoch, *f.Epoch)), rt.DevMode)
		return
	}

	rt.inlineResource(r.Context(), b, imageName, tags, defaultTag, f, &doc)

	rt.writeEntity(w, r, doc, schemavalidate.EntityResource, doc.Epoch)
}

// inlineResource populates doc's nested-collection fields per `inline=`
// (spec.md §4.4/§4.5: "Versions are not inlined unless inline=versions or
// *"). meta is cheap (already-known fields); versions requires a
// cache-first projection per tag, so it is only paid for when requested.
func (rt *Router) inlineResource(ctx context.Context, b backend.Backend, imageName string, tags []string, defaultTag string, f flags.Flags, doc *xr.ResourceDoc) {
	if f.WantsInline("meta") {
		meta := buildMetaDoc(b, imageName, defaultTag, rt.BaseURL, time.Now())
		doc.Meta = &meta
	}
	if f.WantsInline("versions") {
		doc.Versions = make(map[string]xr.VersionDoc, len(tags))
		for _, tag := range tags {
			doc.Versions[tag] = rt.projectOrEmptyVersion(ctx, b, imageName, tag, tag == defaultTag)
		}
	}
}

func (rt *Router) handleMeta(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, ok := rt.Backends.Get(vars["group"])
	if !ok {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "backend "+vars["group"]+" was not found"), rt.DevMode)
		return
	}
	imageName := codec.DecodeImageName(vars["id"])

	tags, err := FetchTags(r.Context(), rt.Upstream, b, imageName)
	if err != nil {
		rt.writeUpstreamError(w, r, err)
		return
	}
	defaultTag := DefaultTag(tags)
	if defaultTag == "" {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "image "+imageName+" was not found"), rt.DevMode)
		return
	}

	doc := buildMetaDoc(b, imageName, defaultTag, rt.BaseURL, time.Now())
	rt.writeEntity(w, r, doc, "", doc.Epoch)
}

// doc is a human-facing stub; spec.md §9 leaves its exact relativization
// open, requiring only that the flag be parsed and a `docs` property be
// injectable.
func (rt *Router) handleDoc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	imageName := codec.DecodeImageName(vars["id"])
	body := map[string]interface{}{
		"docs": fmt.Sprintf("Documentation view for %s/%s", vars["group"], imageName),
	}
	rt.writeJSON(w, r, body, http.StatusOK)
}

func (rt *Router) handleVersionsCollection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, ok := rt.Backends.Get(vars["group"])
	if !ok {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "backend "+vars["group"]+" was not found"), rt.DevMode)
		return
	}
	imageName := codec.DecodeImageName(vars["id"])

	tags, err := FetchTags(r.Context(), rt.Upstream, b, imageName)
	if err != nil {
		rt.writeUpstreamError(w, r, err)
		return
	}
	defaultTag := DefaultTag(tags)

	f, err := flags.Parse(r)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
		return
	}

	sorted := append([]string{}, tags...)
	sort.Strings(sorted)
	start, end := flags.Paginate(len(sorted), f.Limit, f.Offset)
	page := sorted[start:end]

	out := make(map[string]xr.VersionDoc, len(page))
	for _, tag := range page {
		out[tag] = rt.projectOrEmptyVersion(r.Context(), b, imageName, tag, tag == defaultTag)
	}
	rt.writeJSON(w, r, out, http.StatusOK)
}

func (rt *Router) handleVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, ok := rt.Backends.Get(vars["group"])
	if !ok {
		problem.Write(w, r, problem.New(problem.KindEntityNotFound, "backend "+vars["group"]+" was not found"), rt.DevMode)
		return
	}
	imageName := codec.DecodeImageName(vars["id"])
	tag := vars["vid"]

	cached, hit := rt.Cache.Read(b.Name, imageName, tag)
	if hit {
		w.Header().Set("Content-Type", "application/json")
		problem.SetEntityHeaders(w, cached, xr.SpecVersion, "version", 1)
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}

	result, err := projector.Project(r.Context(), rt.Upstream, b, imageName, tag)
	if err != nil {
		rt.writeUpstreamError(w, r, err)
		return
	}

	tags, _ := FetchTags(r.Context(), rt.Upstream, b, imageName)
	isDefault := tag == DefaultTag(tags)

	doc := buildVersionDoc(b, imageName, tag, isDefault, result, rt.BaseURL)

	f, err := flags.Parse(r)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
		return
	}
	if f.Epoch != nil && *f.Epoch != doc.Epoch {
		problem.Write(w, r, problem.New(problem.KindEpochError, fmt.Sprintf("expected epoch %d, got %d", doc.Epoch, *f.Epoch)), rt.DevMode)
		return
	}

	body, marshalErr := json.Marshal(doc)
	if marshalErr == nil {
		if err := rt.Cache.Write(b.Name, imageName, tag, body); err != nil {
			log.Printf("cache: write failed for %s/%s/%s: %v", b.Name, imageName, tag, err)
		}
	}

	rt.writeEntity(w, r, doc, schemavalidate.EntityVersion, doc.Epoch)
}

func (rt *Router) projectOrEmptyVersion(ctx context.Context, b backend.Backend, imageName, tag string, isDefault bool) xr.VersionDoc {
	if cached, hit := rt.Cache.Read(b.Name, imageName, tag); hit {
		var doc xr.VersionDoc
		if json.Unmarshal(cached, &doc) == nil {
			return doc
		}
	}
	result, err := projector.Project(ctx, rt.Upstream, b, imageName, tag)
	if err != nil {
		result = &projector.Result{Detail: err.Error()}
	}
	doc := buildVersionDoc(b, imageName, tag, isDefault, result, rt.BaseURL)
	if body, err := json.Marshal(doc); err == nil {
		if err := rt.Cache.Write(b.Name, imageName, tag, body); err != nil {
			log.Printf("cache: write failed for %s/%s/%s: %v", b.Name, imageName, tag, err)
		}
	}
	return doc
}

// writeEntity marshals doc, applies the flag-driven top-level transforms,
// validates against schema if requested, sets entity headers, and writes
// the response.
func (rt *Router) writeEntity(w http.ResponseWriter, r *http.Request, doc interface{}, entityType schemavalidate.EntityType, epoch uint) {
	f, err := flags.Parse(r)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
		return
	}

	body, err := json.Marshal(doc)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInternalError, err.Error()), rt.DevMode)
		return
	}

	if f.Schema && entityType != "" && rt.SchemaValidator != nil {
		if err := rt.SchemaValidator.Validate(entityType, body); err != nil {
			problem.Write(w, r, problem.New(problem.KindInvalidData, err.Error()), rt.DevMode)
			return
		}
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		flags.StripTopLevel(decoded, f)
		flags.ApplyCollections(decoded, f)
		body, _ = json.Marshal(decoded)
	}

	w.Header().Set("Content-Type", "application/json")
	problem.SetEntityHeaders(w, body, xr.SpecVersion, string(entityType), epoch)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (rt *Router) writeJSON(w http.ResponseWriter, r *http.Request, body interface{}, status int) {
	data, err := json.Marshal(body)
	if err != nil {
		problem.Write(w, r, problem.New(problem.KindInternalError, err.Error()), rt.DevMode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", weakETag(data))
	w.WriteHeader(status)
	w.Write(data)
}

func weakETag(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// writeUpstreamError classifies an upstream/transport error into the
// Problem-Details taxonomy of spec.md §7: 404 passes through as
// entity_not_found; 401/403 become forbidden; everything else (including
// a transport failure or an open circuit breaker) becomes
// service_unavailable.
func (rt *Router) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	problem.Write(w, r, classifyUpstreamError(err), rt.DevMode)
}

func classifyUpstreamError(err error) error {
	ue, ok := err.(*upstream.Error)
	if !ok {
		return problem.New(problem.KindServiceUnavailable, err.Error())
	}
	switch ue.Status {
	case http.StatusNotFound:
		return problem.New(problem.KindEntityNotFound, ue.Detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return problem.New(problem.KindForbidden, ue.Detail)
	default:
		return problem.New(problem.KindServiceUnavailable, ue.Detail)
	}
}
