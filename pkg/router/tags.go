package router

import (
	"encoding/json"
	"net/http"

	"context"

	"github.com/ociregistryx/wrapper/pkg/backend"
)

type tagsList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// FetchTags lists the tags of one repository (spec.md §6 "/v2/{repo}/tags/list").
func FetchTags(ctx context.Context, client Client, b backend.Backend, image string) ([]string, error) {
	resp, err := client.OCIRequest(ctx, b, "/v2/"+image+"/tags/list", http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	var tl tagsList
	if err := json.Unmarshal(resp.Body, &tl); err != nil {
		return nil, err
	}
	return tl.Tags, nil
}

// DefaultTag implements spec.md §4.5's default-version selection state
// machine: "latest" if present, else the first tag.
func DefaultTag(tags []string) string {
	for _, t := range tags {
		if t == "latest" {
			return "latest"
		}
	}
	if len(tags) > 0 {
		return tags[0]
	}
	return ""
}
