// Package digikala scrapes the public Digikala JSON API: autocomplete,
// product search and product reports with seller offers and user feedback.
package digikala

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"

	"scrape/internal/extract"
	"scrape/internal/sites"
)

const (
	DefaultAPIBase = "https://api.digikala.com"
	WebBase        = "https://www.digikala.com"

	noTitle  = "بدون عنوان"
	unknown  = "نامشخص"
	noLink   = "لینک ناموجود"
	noColors = "Not specified"

	maxComments  = 10
	maxQuestions = 10
	maxAnswers   = 2
)

var productIDRe = regexp.MustCompile(`dkp-(\d+)`)

// Client runs Digikala operations through F.
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
		Name: "digikala",
		Operations: map[string]sites.Operation{
			"autocomplete": c.Autocomplete,
			"search":       c.Search,
			"product":      c.ProductDetails,
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

var categoryFields = []extract.Field{
	{Name: "keyword", Path: extract.MustPath("keyword")},
	{Name: "category_id", Path: extract.MustPath("category.id")},
	{Name: "category_title_fa", Path: extract.MustPath("category.title_fa")},
}

var autocompleteSpec = extract.MustCompile(
	extract.Field{
		Name:    "suggestions",
		Path:    extract.MustPath("auto_complete"),
		Default: []any{},
		Items:   &extract.Field{Path: extract.MustPath("keyword"), Func: nonEmpty},
		Skip:    true,
		Unique:  true,
	},
	extract.Field{
		Name:    "categories",
		Path:    extract.MustPath("categories"),
		Default: []any{},
		Items: &extract.Field{Fields: append(append([]extract.Field{}, categoryFields...),
			extract.Field{Name: "category_title_en", Path: extract.MustPath("category.title_en")},
			extract.Field{Name: "category_code", Path: extract.MustPath("category.code")},
		)},
	},
	extract.Field{
		Name:    "advanced_links",
		Path:    extract.MustPath("advance_links"),
		Default: []any{},
		Items: &extract.Field{Fields: append(append([]extract.Field{}, categoryFields...),
			extract.Field{Name: "category_code", Path: extract.MustPath("category.code")},
			extract.Field{
				Name:       "url",
				Path:       extract.MustPath("category.url.uri"),
				Default:    WebBase,
				Transforms: []string{"prefix:" + WebBase},
			},
		)},
	},
)

// Autocomplete reads Params.Query and returns suggestions, categories and
// advanced links for it.
func (c *Client) Autocomplete(ctx context.Context, p sites.Params) (sites.Result, error) {
	doc, err := c.F.Get(ctx, c.api("/v1/autocomplete/"), url.Values{"q": {p.Query}})
	if err != nil {
		return sites.Result{}, fmt.Errorf("digikala autocomplete: %w", err)
	}
	data, ok := extract.Lookup(doc, extract.MustPath("data"))
	if m, isMap := data.(map[string]any); !ok || !isMap || len(m) == 0 {
		return sites.Result{}, fmt.Errorf("digikala autocomplete %q: %w", p.Query, sites.ErrNoResults)
	}

	rec, ferr := extract.Assemble(data, autocompleteSpec)
	out := extract.Record{"query": p.Query}
	for k, v := range rec {
		out[k] = v
	}
	return sites.Single(out, ferr), nil
}

var productSpec = extract.MustCompile(
	extract.Field{Name: "id", Path: extract.MustPath("id")},
	extract.Field{Name: "title_fa", Path: extract.MustPath("title_fa"), Default: noTitle},
	extract.Field{Name: "status", Path: extract.MustPath("status"), Default: unknown},
	extract.Field{Name: "image_url", Path: extract.MustPath("images.main.url[0]")},
	extract.Field{
		Name:    "product_page_url",
		Path:    extract.MustPath("url.uri"),
		Default: noLink,
		Func:    webURL,
	},
	extract.Field{Name: "price", Path: extract.MustPath("default_variant.price"), Fields: []extract.Field{
		{Name: "selling_price", Path: extract.MustPath("selling_price"), Default: 0},
		{Name: "rrp_price", Path: extract.MustPath("rrp_price"), Default: 0},
		{Name: "discount_percent", Path: extract.MustPath("discount_percent"), Default: 0},
	}},
	extract.Field{Name: "rating", Path: extract.MustPath("rating"), Fields: []extract.Field{
		{Name: "rate", Path: extract.MustPath("rate"), Default: 0},
		{Name: "count", Path: extract.MustPath("count"), Default: 0},
	}},
	extract.Field{Name: "seller", Path: extract.MustPath("default_variant.seller"), Fields: []extract.Field{
		{Name: "name", Path: extract.MustPath("title"), Default: unknown},
		{Name: "url", Path: extract.MustPath("url"), Default: noLink},
	}},
	extract.Field{Name: "digiclub_points", Path: extract.MustPath("default_variant.digiclub.point"), Default: 0},
)

// Search reads Params.Query, Page (default 1), Filters and Limit and returns
// the cleaned product list of one result page.
func (c *Client) Search(ctx context.Context, p sites.Params) (sites.Result, error) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	q := FilterQuery(p.Filters)
	q.Set("q", p.Query)
	q.Set("page", strconv.Itoa(page))

	doc, err := c.F.Get(ctx, c.api("/v1/search/"), q)
	if err != nil {
		return sites.Result{}, fmt.Errorf("digikala search: %w", err)
	}
	products, _ := extract.Lookup(doc, extract.MustPath("data.products"))
	if seq, ok := products.([]any); !ok || len(seq) == 0 {
		return sites.Result{}, fmt.Errorf("digikala search %q page %d: %w", p.Query, page, sites.ErrNoResults)
	}

	recs, ferr := extract.AssembleList(doc, extract.MustPath("data.products"), productSpec)
	return sites.List(sites.Limit(recs, p.Limit), ferr), nil
}

// FilterQuery encodes search filters the way the search endpoint expects:
// price {min,max} becomes price[min]/price[max], true switches become 1,
// lists become key[0], key[1], ... False switches and other shapes are
// dropped.
func FilterQuery(filters map[string]any) url.Values {
	q := url.Values{}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := filters[k].(type) {
		case map[string]any:
			if k != "price" {
				continue
			}
			for _, bound := range []string{"min", "max"} {
				if b, ok := v[bound]; ok {
					q.Set("price["+bound+"]", queryValue(b))
				}
			}
		case bool:
			if v {
				q.Set(k, "1")
			}
		case []any:
			for i, el := range v {
				q.Set(k+"["+strconv.Itoa(i)+"]", queryValue(el))
			}
		}
	}
	return q
}

func queryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}

// ProductID returns the numeric id in a product page URL ("dkp-123").
func ProductID(productURL string) (string, bool) {
	m := productIDRe.FindStringSubmatch(productURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var reportSpec = extract.MustCompile(
	extract.Field{Name: "product_summary", Fields: []extract.Field{
		{Name: "name", Path: extract.MustPath("title_fa")},
		{Name: "id", Path: extract.MustPath("id")},
		{Name: "category", Path: extract.MustPath("category.title_fa")},
		{Name: "brand", Path: extract.MustPath("brand.title_fa")},
		{Name: "price_info", Path: extract.MustPath("default_variant.price")},
		{
			Name:       "available_colors",
			Path:       extract.MustPath("colors"),
			Default:    noColors,
			Items:      &extract.Field{Path: extract.MustPath("title"), Default: ""},
			Transforms: []string{"join: - "},
			Func:       nonEmpty,
		},
		{
			Name:       "statistics",
			Path:       extract.MustPath("default_variant.statistics"),
			Default:    map[string]any{},
			Transforms: []string{"omit:is_incredible,is_promotion,is_locked_for_digiplus,bnpl_active"},
		},
	}},
	extract.Field{
		Name:    "seller_offers",
		Path:    extract.MustPath("variants"),
		Default: []any{},
		Where:   &extract.Cond{Path: extract.MustPath("seller.title")},
		Items: &extract.Field{Fields: []extract.Field{
			{Name: "seller_name", Path: extract.MustPath("seller.title")},
			{Name: "price", Path: extract.MustPath("price.selling_price")},
			{Name: "warranty", Path: extract.MustPath("warranty.title_fa")},
			{Name: "shipping_info", Path: extract.MustPath("shipment_methods.description")},
		}},
		Func: firstOfferPerSeller,
	},
)

var commentsSpec = extract.MustCompile(extract.Field{
	Name:    "comments",
	Path:    extract.MustPath("data.comments"),
	Default: []any{},
	Items: &extract.Field{Fields: []extract.Field{
		{Name: "body", Path: extract.MustPath("body")},
		{Name: "rating", Path: extract.MustPath("rate")},
	}},
	Limit: maxComments,
})

var questionsSpec = extract.MustCompile(extract.Field{
	Name:    "questions",
	Path:    extract.MustPath("data.questions"),
	Default: []any{},
	Where:   &extract.Cond{Path: extract.MustPath("answers[0]")},
	Items: &extract.Field{Fields: []extract.Field{
		{Name: "question", Path: extract.MustPath("text")},
		{
			Name:       "answers",
			Path:       extract.MustPath("answers"),
			Default:    []any{},
			Items:      &extract.Field{Path: extract.MustPath("text")},
			Limit:      maxAnswers,
			Transforms: []string{"compact"},
		},
	}},
	Func: answeredQuestions,
})

// ProductDetails reads Params.URL, a product page URL, and builds a report
// of the product, its distinct seller offers, and the first page of user
// comments and answered questions. Feedback that cannot be fetched is left
// empty and reported through Result.FieldErrors.
func (c *Client) ProductDetails(ctx context.Context, p sites.Params) (sites.Result, error) {
	id, ok := ProductID(p.URL)
	if !ok {
		return sites.Result{}, fmt.Errorf("digikala product: no dkp id in %q", p.URL)
	}

	doc, err := c.F.Get(ctx, c.api("/v2/product/"+id+"/"), nil)
	if err != nil {
		return sites.Result{}, fmt.Errorf("digikala product %s: %w", id, err)
	}
	product, ok := extract.Lookup(doc, extract.MustPath("data.product"))
	if _, isMap := product.(map[string]any); !ok || !isMap {
		return sites.Result{}, fmt.Errorf("digikala product %s: %w", id, sites.ErrNoResults)
	}

	report, ferr := extract.Assemble(product, reportSpec)
	errs := []error{ferr}

	feedback := extract.Record{"comments": []any{}, "questions": []any{}}
	if cdoc, err := c.F.Get(ctx, c.api("/v1/rate-review/products/"+id+"/"), url.Values{"page": {"1"}}); err != nil {
		errs = append(errs, &extract.FieldError{Field: "user_feedback.comments", Err: err})
	} else {
		rec, e := extract.Assemble(cdoc, commentsSpec)
		feedback["comments"] = rec["comments"]
		errs = append(errs, e)
	}
	if qdoc, err := c.F.Get(ctx, c.api("/v1/product/"+id+"/questions/"), nil); err != nil {
		errs = append(errs, &extract.FieldError{Field: "user_feedback.questions", Err: err})
	} else {
		rec, e := extract.Assemble(qdoc, questionsSpec)
		feedback["questions"] = rec["questions"]
		errs = append(errs, e)
	}
	report["user_feedback"] = feedback

	return sites.Single(report, errors.Join(errs...)), nil
}

// nonEmpty turns "" into a missing value so the field default applies.
func nonEmpty(v any) (any, error) {
	if s, ok := v.(string); ok && s == "" {
		return nil, nil
	}
	return v, nil
}

func webURL(v any) (any, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, nil
	}
	return WebBase + s, nil
}

func firstOfferPerSeller(v any) (any, error) {
	seq, _ := v.([]any)
	seen := map[string]struct{}{}
	out := make([]any, 0, len(seq))
	for _, el := range seq {
		rec, _ := el.(extract.Record)
		name, _ := rec["seller_name"].(string)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, rec)
	}
	return out, nil
}

func answeredQuestions(v any) (any, error) {
	seq, _ := v.([]any)
	out := make([]any, 0, maxQuestions)
	for _, el := range seq {
		if len(out) == maxQuestions {
			break
		}
		rec, _ := el.(extract.Record)
		if answers, _ := rec["answers"].([]any); len(answers) == 0 {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
