// Package jabama scrapes the Jabama accommodation gateway: destination
// suggestions, the filters available for a destination keyword, and stay
// search.
package jabama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"scrape/internal/extract"
	"scrape/internal/sites"
)

const (
	DefaultAPIBase = "https://gw.jabama.com"
	StayBase       = "https://www.jabama.com/stay/"
	DefaultCount   = 10

	noURL = "URL not available"
)

// Client runs Jabama operations through F.
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
		Name: "jabama",
		Operations: map[string]sites.Operation{
			"suggestions": c.Suggestions,
			"filters":     c.Filters,
			"search":      c.Search,
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

func (c *Client) keywordURL(kw string) string {
	return c.api("/api/v4/keyword/" + url.PathEscape(kw))
}

var suggestionSpec = extract.MustCompile(
	extract.Field{Name: "title", Path: extract.MustPath("title"), Default: "", Transforms: []string{"concat:text"}},
	extract.Field{Name: "description", Path: extract.MustPath("description"), Default: ""},
	extract.Field{Name: "api_keyword", Path: extract.MustPath("url")},
	extract.Field{Name: "pre_filters", Path: extract.MustPath("app.preFilters")},
)

var sectionItems = extract.MustPath("result.sections[*].items")

// Suggestions reads Params.Query. Items of every section are returned as one
// list; api_keyword is what Filters and Search take as Params.Query.
func (c *Client) Suggestions(ctx context.Context, p sites.Params) (sites.Result, error) {
	doc, err := c.F.Get(ctx, c.api("/api/v1/yoda/guest/search/suggestions/"+url.PathEscape(p.Query)), nil)
	if err != nil {
		return sites.Result{}, fmt.Errorf("jabama suggestions: %w", err)
	}
	nested, _ := extract.Lookup(doc, sectionItems)
	items := flatten(nested)
	if len(items) == 0 {
		return sites.Result{}, fmt.Errorf("jabama suggestions %q: %w", p.Query, sites.ErrNoResults)
	}
	recs, ferr := extract.AssembleList(items, nil, suggestionSpec)
	return sites.List(recs, ferr), nil
}

// flatten joins a sequence of sequences; other elements are dropped.
func flatten(v any) []any {
	outer, _ := v.([]any)
	var out []any
	for _, el := range outer {
		if inner, ok := el.([]any); ok {
			out = append(out, inner...)
		}
	}
	return out
}

var optionSpec = extract.MustCompile(
	extract.Field{Name: "name", Path: extract.MustPath("persian-name")},
	extract.Field{Name: "key", Path: extract.MustPath("key")},
)

var (
	optionsPath    = extract.MustPath("filters")
	subOptionsPath = extract.MustPath("sub-key")
)

// Filters reads Params.Query as the destination keyword and returns the
// available filters keyed by field name. Pax, Range and Bool filters carry
// their range; option filters carry their options, flattened to cities for
// location-cities. Option filters without options are left out.
func (c *Client) Filters(ctx context.Context, p sites.Params) (sites.Result, error) {
	doc, err := c.F.PostJSON(ctx, c.keywordURL(p.Query), map[string]any{"page-size": 1})
	if err != nil {
		return sites.Result{}, fmt.Errorf("jabama filters: %w", err)
	}
	raw, _ := extract.Lookup(doc, extract.MustPath("result.filters"))
	filters, _ := raw.([]any)
	if len(filters) == 0 {
		return sites.Result{}, fmt.Errorf("jabama filters %q: %w", p.Query, sites.ErrNoResults)
	}

	out := extract.Record{}
	var errs []error
	for _, el := range filters {
		f, ok := el.(map[string]any)
		if !ok {
			continue
		}
		field, _ := f["field"].(string)
		if field == "" {
			continue
		}
		typ := f["filter-type"]

		switch typ {
		case "Pax", "Range", "Bool":
			info := map[string]any{"name": f["name"], "type": typ}
			if r, ok := f["filter-range"]; ok && truthy(r) {
				info["range"] = r
			}
			out[field] = info
			continue
		}

		var options []extract.Record
		if field == "location-cities" {
			provinces, _ := f["filters"].([]any)
			for _, prov := range provinces {
				recs, err := extract.AssembleList(prov, subOptionsPath, optionSpec)
				options = append(options, recs...)
				errs = append(errs, err)
			}
		} else {
			recs, err := extract.AssembleList(f, optionsPath, optionSpec)
			options = recs
			errs = append(errs, err)
		}
		if len(options) > 0 {
			out[field] = map[string]any{"name": f["name"], "type": typ, "options": options}
		}
	}
	return sites.Single(out, errors.Join(errs...)), nil
}

// truthy reports whether v is a non-empty JSON value.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

var toInt = mustTransform("int")

func mustTransform(expr string) extract.TransformFunc {
	fn, err := extract.NewTransform(expr)
	if err != nil {
		panic(err)
	}
	return fn
}

var stayFields = []extract.Field{
	{Name: "name", Path: extract.MustPath("name")},
	{Name: "details_page_url", Default: noURL, Func: detailsURL},
	{Name: "place_id", Path: extract.MustPath("id")},
	{Name: "type", Path: extract.MustPath("type")},
	{Name: "location", Path: extract.MustPath("location"), Fields: []extract.Field{
		{Name: "province", Path: extract.MustPath("province")},
		{Name: "city", Path: extract.MustPath("city")},
	}},
	{Name: "price", Path: extract.MustPath("price"), Fields: []extract.Field{
		{Name: "per_night_rials", Path: extract.MustPath("perNight")},
		{Name: "description", Path: extract.MustPath("text")},
		{Name: "discount_percent", Path: extract.MustPath("discountPercent"), Default: 0},
	}},
	{Name: "rating", Path: extract.MustPath("rate_review"), Fields: []extract.Field{
		{Name: "score", Path: extract.MustPath("score"), Default: 0},
		{Name: "count", Path: extract.MustPath("count"), Default: int64(0), Transforms: []string{"int"}},
	}},
	{Name: "capacity", Path: extract.MustPath("capacity"), Fields: []extract.Field{
		{Name: "base", Path: extract.MustPath("base"), Default: int64(0), Transforms: []string{"int"}},
		{Name: "extra", Path: extract.MustPath("extra"), Default: int64(0), Transforms: []string{"int"}},
	}},
	{Name: "specs", Path: extract.MustPath("accommodationMetrics"), Fields: []extract.Field{
		{Name: "bedrooms", Path: extract.MustPath("bedroomsCount"), Default: int64(0), Transforms: []string{"int"}},
		{Name: "bathrooms", Path: extract.MustPath("bathroomsCount"), Default: int64(0), Transforms: []string{"int"}},
		{Name: "building_size_sqm", Path: extract.MustPath("buildingSize")},
		{Name: "area_size_sqm", Path: extract.MustPath("areaSize")},
	}},
	{Name: "main_image_url", Path: extract.MustPath("image")},
	{Name: "all_images_url", Path: extract.MustPath("images"), Default: []any{}},
	{
		Name:    "amenities",
		Path:    extract.MustPath("amenities"),
		Default: []any{},
		Items:   &extract.Field{Path: extract.MustPath("name")},
	},
	{Name: "tags", Path: extract.MustPath("tags"), Default: []any{}},
	{Name: "description", Path: extract.MustPath("description"), Default: "", Transforms: []string{"trim"}},
}

var staySpec = extract.MustCompile(stayFields...)

// Search reads Params.Query as the destination keyword, Filters (sent
// as-is next to page-size) and Limit as the page size (default 10). An empty
// result is an empty numbered object, not an error.
func (c *Client) Search(ctx context.Context, p sites.Params) (sites.Result, error) {
	count := p.Limit
	if count <= 0 {
		count = DefaultCount
	}
	body := make(map[string]any, len(p.Filters)+1)
	body["page-size"] = count
	for k, v := range p.Filters {
		body[k] = v
	}

	doc, err := c.F.PostJSON(ctx, c.keywordURL(p.Query), body)
	if err != nil {
		return sites.Result{}, fmt.Errorf("jabama search: %w", err)
	}
	recs, ferr := extract.AssembleList(doc, extract.MustPath("result.items"), staySpec)
	for _, r := range recs {
		addCapacityTotal(r)
	}
	return sites.NumberedList(recs, ferr), nil
}

func addCapacityTotal(r extract.Record) {
	capacity, ok := r["capacity"].(extract.Record)
	if !ok {
		return
	}
	base, _ := capacity["base"].(int64)
	extra, _ := capacity["extra"].(int64)
	capacity["total"] = base + extra
}

// detailsURL builds the stay page URL from the item's type and numeric code.
func detailsURL(v any) (any, error) {
	item, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	typ, _ := item["type"].(string)
	code := item["code"]
	if typ == "" || !truthy(code) {
		return nil, nil
	}
	n, err := toInt(code)
	if err != nil {
		return nil, nil
	}
	return fmt.Sprintf("%s%s-%d", StayBase, typ, n), nil
}
