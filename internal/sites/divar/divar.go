// Package divar scrapes the Divar classifieds web API: query suggestions,
// category filters with district options, post search and post details.
package divar

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"scrape/internal/extract"
	"scrape/internal/sites"
)

const (
	DefaultAPIBase = "https://api.divar.ir"
	DefaultCity    = "1"

	sourceView     = "SEARCH_BAR_QUERY_SUGGESTION"
	payloadType    = "type.googleapis.com/widgets.SearchData.ServerPayload"
	districtWidget = "I_LAZY_MULTI_SELECT_DISTRICT_ROW"
)

// Client runs Divar operations through F.
type Client struct {
	F       sites.Fetcher
	APIBase string
}

func New(f sites.Fetcher) *Client {
	return &Client{F: f, APIBase: DefaultAPIBase}
}

// Site exposes the client's operations under their command-line names.
func (c *Client) Site() sites.Site {
	return sites.Site{
		Name: "divar",
		Operations: map[string]sites.Operation{
			"suggestions": c.Suggestions,
			"filters":     c.Filters,
			"search":      c.Search,
			"post":        c.PostDetails,
		},
	}
}

func (c *Client) api(path string) string {
	base := c.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	return base + path
}

func city(p sites.Params) string {
	if p.City == "" {
		return DefaultCity
	}
	return p.City
}

var suggestionSpec = extract.MustCompile(
	extract.Field{Name: "suggestion_title", Path: extract.MustPath("title")},
	extract.Field{Name: "category", Path: extract.MustPath("subtitle")},
	extract.Field{Name: "ad_count", Path: extract.MustPath("ad_count")},
	extract.Field{Name: "value", Path: extract.MustPath("search_data.form_data.data.category.str.value")},
)

// Suggestions reads Params.Query and City (default "1").
func (c *Client) Suggestions(ctx context.Context, p sites.Params) (sites.Result, error) {
	body := map[string]any{"query": p.Query, "cities": []string{city(p)}}
	doc, err := c.F.PostJSON(ctx, c.api("/v8/prediction/w/query"), body)
	if err != nil {
		return sites.Result{}, fmt.Errorf("divar suggestions: %w", err)
	}
	recs, ferr := extract.AssembleList(doc, extract.MustPath("suggestions"), suggestionSpec)
	if len(recs) == 0 {
		return sites.Result{}, fmt.Errorf("divar suggestions %q: %w", p.Query, sites.ErrNoResults)
	}
	return sites.List(recs, ferr), nil
}

// searchData is the search_data object shared by the filters and search
// endpoints; formData is merged into form_data.data next to the category.
func searchData(query, category string, formData map[string]any) map[string]any {
	data := map[string]any{"category": map[string]any{"str": map[string]any{"value": category}}}
	for k, v := range formData {
		data[k] = v
	}
	return map[string]any{
		"form_data": map[string]any{"data": data},
		"server_payload": map[string]any{
			"@type": payloadType,
			"additional_form_data": map[string]any{
				"data": map[string]any{"sort": map[string]any{"str": map[string]any{"value": "sort_date"}}},
			},
		},
		"query": query,
	}
}

// Filters reads Params.Query, Category and City and returns the filter page
// as received, with the district widget's options loaded into
// data.loaded_options. A failed options request leaves the page unmodified
// and is reported through Result.FieldErrors.
func (c *Client) Filters(ctx context.Context, p sites.Params) (sites.Result, error) {
	body := map[string]any{
		"city_ids":    []string{city(p)},
		"source_view": sourceView,
		"data":        searchData(p.Query, p.Category, nil),
	}
	doc, err := c.F.PostJSON(ctx, c.api("/v8/postlist/w/filters"), body)
	if err != nil {
		return sites.Result{}, fmt.Errorf("divar filters: %w", err)
	}
	page, ok := doc.(map[string]any)
	if !ok {
		return sites.Result{}, fmt.Errorf("divar filters: response is %T, not an object", doc)
	}

	res := sites.Single(page, nil)
	widget, ok := findWidget(page)
	if !ok {
		return res, nil
	}
	data, _ := widget["data"].(map[string]any)
	lazy, ok := data["lazy_payload"]
	if !ok || lazy == nil {
		return res, nil
	}

	opts, err := c.F.PostJSON(ctx, c.api("/v8/w/lazy-multi-select-hierarchy-options"), map[string]any{"payload": lazy})
	if err != nil {
		res.FieldErrors = &extract.FieldError{Field: "page.widget_list.loaded_options", Err: err}
		return res, nil
	}
	loaded, _ := extract.Lookup(opts, extract.MustPath("options"))
	data["loaded_options"] = loaded
	return res, nil
}

func findWidget(page map[string]any) (map[string]any, bool) {
	list, ok := extract.Lookup(page, extract.MustPath("page.widget_list"))
	if !ok {
		return nil, false
	}
	return extract.FindFirst(list, extract.KeyEquals("widget_type", districtWidget))
}

var postRowSpec = extract.MustCompile(extract.Field{
	Name:    "posts",
	Find:    "list_widgets",
	Default: []any{},
	Where:   &extract.Cond{Path: extract.MustPath("widget_type"), Equals: "POST_ROW"},
	Items: &extract.Field{Fields: []extract.Field{
		{Name: "token", Path: extract.MustPath("data.token")},
		{Name: "title", Path: extract.MustPath("data.title")},
		{Name: "district_persian", Path: extract.MustPath("data.action.payload.web_info.district_persian")},
		{Name: "city_persian", Path: extract.MustPath("data.action.payload.web_info.city_persian")},
		{Name: "image_url", Path: extract.MustPath("data.image_url")},
		{Name: "bottom_description_text", Path: extract.MustPath("data.bottom_description_text")},
		{Name: "has_chat", Path: extract.MustPath("data.has_chat")},
		{Name: "red_text", Path: extract.MustPath("data.red_text")},
		{Name: "middle_description_text", Path: extract.MustPath("data.middle_description_text")},
		{Name: "has_divider", Path: extract.MustPath("data.has_divider")},
		{Name: "image_count", Path: extract.MustPath("data.image_count")},
		{Name: "top_description_text", Path: extract.MustPath("data.top_description_text")},
		{Name: "should_indicate_seen_status", Path: extract.MustPath("data.should_indicate_seen_status")},
		{Name: "sort_date", Path: extract.MustPath("action_log.server_side_info.info.sort_date")},
	}},
})

// Search reads Params.Query, Category, City, Filters (merged into the form
// data) and Limit. The post list is located by key wherever the response
// nests it; only POST_ROW widgets become results.
func (c *Client) Search(ctx context.Context, p sites.Params) (sites.Result, error) {
	body := map[string]any{
		"city_ids":    []string{city(p)},
		"source_view": sourceView,
		"search_data": searchData(p.Query, p.Category, p.Filters),
	}
	doc, err := c.F.PostJSON(ctx, c.api("/v8/postlist/w/search"), body)
	if err != nil {
		return sites.Result{}, fmt.Errorf("divar search: %w", err)
	}

	rec, ferr := extract.Assemble(doc, postRowSpec)
	posts, _ := rec["posts"].([]any)
	recs := make([]extract.Record, 0, len(posts))
	for _, el := range posts {
		if r, ok := el.(extract.Record); ok {
			recs = append(recs, r)
		}
	}
	recs = sites.Limit(recs, p.Limit)
	if len(recs) == 0 {
		return sites.Result{}, fmt.Errorf("divar search %q: %w", p.Query, sites.ErrNoResults)
	}
	return sites.NumberedList(recs, ferr), nil
}

var postSpec = extract.MustCompile(
	extract.Field{
		Name:    "categories",
		Path:    extract.MustPath("BREADCRUMB[0].data.parent_items"),
		Default: []any{},
		Items:   &extract.Field{Path: extract.MustPath("title")},
		Skip:    true,
	},
	extract.Field{Name: "title", Path: extract.MustPath("TITLE[0].data.title")},
	extract.Field{Name: "subtitle", Path: extract.MustPath("TITLE[0].data.subtitle")},
	extract.Field{
		Name:       "description",
		Path:       extract.MustPath("DESCRIPTION"),
		Where:      &extract.Cond{Path: extract.MustPath("widget_type"), Equals: "DESCRIPTION_ROW"},
		Items:      &extract.Field{Path: extract.MustPath("data.text")},
		Limit:      1,
		Transforms: []string{"first"},
		Func:       trimmedText,
	},
	extract.Field{
		Name:    "image_urls",
		Path:    extract.MustPath("IMAGE[0].data.items"),
		Default: []any{},
		Items:   &extract.Field{Path: extract.MustPath("image.url")},
		Skip:    true,
	},
	extract.Field{
		Name:    "details",
		Path:    extract.MustPath("LIST_DATA"),
		Default: map[string]any{},
		Func:    listDetails,
	},
	extract.Field{Name: "location", Path: extract.MustPath("MAP[0].data.location.exact_data.point")},
)

// PostDetails reads Params.Token and returns a flat view of the post page:
// breadcrumbs, title, description, images, the key/value details rows and
// the map point.
func (c *Client) PostDetails(ctx context.Context, p sites.Params) (sites.Result, error) {
	if p.Token == "" {
		return sites.Result{}, fmt.Errorf("divar post: empty token")
	}
	doc, err := c.F.Get(ctx, c.api("/v8/posts-v2/web/"+url.PathEscape(p.Token)), nil)
	if err != nil {
		return sites.Result{}, fmt.Errorf("divar post %s: %w", p.Token, err)
	}
	raw, ok := extract.Lookup(doc, extract.MustPath("sections"))
	seq, isSeq := raw.([]any)
	if !ok || !isSeq {
		return sites.Result{}, fmt.Errorf("divar post %s: %w", p.Token, sites.ErrNoResults)
	}

	rec, ferr := extract.Assemble(sectionsByName(seq), postSpec)
	return sites.Single(rec, ferr), nil
}

// sectionsByName maps section_name to the section's widgets. A repeated name
// keeps the last section.
func sectionsByName(sections []any) map[string]any {
	out := make(map[string]any, len(sections))
	for _, el := range sections {
		s, ok := el.(map[string]any)
		if !ok {
			continue
		}
		name, ok := s["section_name"].(string)
		if !ok {
			continue
		}
		out[name] = s["widgets"]
	}
	return out
}

var (
	widgetTypePath = extract.MustPath("widget_type")
	dataPath       = extract.MustPath("data")
)

// listDetails flattens LIST_DATA widgets into title -> value pairs.
func listDetails(v any) (any, error) {
	widgets, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: details: unsupported value %T", extract.ErrTransform, v)
	}
	out := map[string]any{}
	put := func(k, val any) {
		if s, ok := k.(string); ok {
			out[s] = val
		}
	}
	for _, w := range widgets {
		typ, _ := extract.Lookup(w, widgetTypePath)
		raw, _ := extract.Lookup(w, dataPath)
		data, _ := raw.(map[string]any)
		switch typ {
		case "GROUP_INFO_ROW":
			items, _ := data["items"].([]any)
			for _, it := range items {
				if m, ok := it.(map[string]any); ok {
					put(m["title"], m["value"])
				}
			}
		case "UNEXPANDABLE_ROW":
			put(data["title"], data["value"])
		case "SCORE_ROW":
			put(data["title"], data["descriptive_score"])
		}
	}
	return out, nil
}

func trimmedText(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	return s, nil
}
