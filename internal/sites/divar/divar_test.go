package divar

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"scrape/internal/extract"
	"scrape/internal/sites"
	"scrape/internal/sites/sitestest"
)

const api = "https://api.example.test"

func newTestClient(f *sitestest.Fetcher) *Client {
	c := New(f)
	c.APIBase = api
	return c
}

func TestSuggestions(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("POST", api+"/v8/prediction/w/query"): `{"suggestions": [
			{"title": "گیتار", "subtitle": "آلات موسیقی", "ad_count": 1200,
			 "search_data": {"form_data": {"data": {"category": {"str": {"value": "guitar-bass-amplifier"}}}}}},
			{"title": "گیتار برقی"}
		]}`,
	}}

	res, err := newTestClient(f).Suggestions(context.Background(), sites.Params{Query: "گیتار"})
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	want := sitestest.Doc(t, `[
		{"suggestion_title": "گیتار", "category": "آلات موسیقی", "ad_count": 1200, "value": "guitar-bass-amplifier"},
		{"suggestion_title": "گیتار برقی", "category": null, "ad_count": null, "value": null}
	]`)
	if diff := cmp.Diff(want, sitestest.Normalize(t, res.Output)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	wantBody := sitestest.Doc(t, `{"query": "گیتار", "cities": ["1"]}`)
	if diff := cmp.Diff(wantBody, f.Calls()[0].Body); diff != "" {
		t.Fatalf("request body (-want +got):\n%s", diff)
	}
}

func TestSuggestionsCityAndEmpty(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("POST", api+"/v8/prediction/w/query"): `{"suggestions": []}`,
	}}
	_, err := newTestClient(f).Suggestions(context.Background(), sites.Params{Query: "x", City: "3"})
	if !errors.Is(err, sites.ErrNoResults) {
		t.Fatalf("err=%v want ErrNoResults", err)
	}
	body := f.Calls()[0].Body.(map[string]any)
	if diff := cmp.Diff([]any{"3"}, body["cities"]); diff != "" {
		t.Fatalf("cities (-want +got):\n%s", diff)
	}
}

const filtersBody = `{"page": {"widget_list": [
	{"widget_type": "I_SORT_ROW", "data": {"title": "مرتب‌سازی"}},
	{"widget_type": "I_LAZY_MULTI_SELECT_DISTRICT_ROW", "data": {"title": "محل", "lazy_payload": {"@type": "districts", "city": 1}}}
]}}`

func TestFilters(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("POST", api+"/v8/postlist/w/filters"):                    filtersBody,
		sitestest.Key("POST", api+"/v8/w/lazy-multi-select-hierarchy-options"): `{"options": [{"id": "ونک"}, {"id": "تجریش"}]}`,
	}}

	res, err := newTestClient(f).Filters(context.Background(), sites.Params{Query: "گیتار یاماها", Category: "guitar-bass-amplifier"})
	if err != nil {
		t.Fatalf("Filters: %v", err)
	}
	if res.FieldErrors != nil {
		t.Fatalf("FieldErrors: %v", res.FieldErrors)
	}

	want := sitestest.Doc(t, `{"page": {"widget_list": [
		{"widget_type": "I_SORT_ROW", "data": {"title": "مرتب‌سازی"}},
		{"widget_type": "I_LAZY_MULTI_SELECT_DISTRICT_ROW", "data": {
			"title": "محل",
			"lazy_payload": {"@type": "districts", "city": 1},
			"loaded_options": [{"id": "ونک"}, {"id": "تجریش"}]
		}}
	]}}`)
	if diff := cmp.Diff(want, sitestest.Normalize(t, res.Output)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	calls := f.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls=%d want 2", len(calls))
	}
	wantFilters := sitestest.Doc(t, `{
		"city_ids": ["1"],
		"source_view": "SEARCH_BAR_QUERY_SUGGESTION",
		"data": {
			"form_data": {"data": {"category": {"str": {"value": "guitar-bass-amplifier"}}}},
			"server_payload": {
				"@type": "type.googleapis.com/widgets.SearchData.ServerPayload",
				"additional_form_data": {"data": {"sort": {"str": {"value": "sort_date"}}}}
			},
			"query": "گیتار یاماها"
		}
	}`)
	if diff := cmp.Diff(wantFilters, calls[0].Body); diff != "" {
		t.Fatalf("filters body (-want +got):\n%s", diff)
	}
	wantLazy := sitestest.Doc(t, `{"payload": {"@type": "districts", "city": 1}}`)
	if diff := cmp.Diff(wantLazy, calls[1].Body); diff != "" {
		t.Fatalf("options body (-want +got):\n%s", diff)
	}
}

func TestFiltersWithoutDistrictWidget(t *testing.T) {
	t.Parallel()

	// A district widget outside widget_list is not followed.
	body := `{"page": {
		"widget_list": [{"widget_type": "I_SORT_ROW"}],
		"header": {"widget_type": "I_LAZY_MULTI_SELECT_DISTRICT_ROW", "data": {"lazy_payload": {}}}
	}}`
	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("POST", api+"/v8/postlist/w/filters"): body,
	}}
	res, err := newTestClient(f).Filters(context.Background(), sites.Params{Category: "c"})
	if err != nil {
		t.Fatalf("Filters: %v", err)
	}
	if diff := cmp.Diff(sitestest.Doc(t, body), sitestest.Normalize(t, res.Output)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if n := len(f.Calls()); n != 1 {
		t.Fatalf("calls=%d want 1", n)
	}
}

func TestFiltersOptionsFailure(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{
		Bodies: map[string]string{
			sitestest.Key("POST", api+"/v8/postlist/w/filters"): filtersBody,
		},
		Errors: map[string]error{
			sitestest.Key("POST", api+"/v8/w/lazy-multi-select-hierarchy-options"): errors.New("502"),
		},
	}
	res, err := newTestClient(f).Filters(context.Background(), sites.Params{Category: "c"})
	if err != nil {
		t.Fatalf("Filters: %v", err)
	}
	var fe *extract.FieldError
	if !errors.As(res.FieldErrors, &fe) {
		t.Fatalf("FieldErrors=%v want *extract.FieldError", res.FieldErrors)
	}
	if diff := cmp.Diff(sitestest.Doc(t, filtersBody), sitestest.Normalize(t, res.Output)); diff != "" {
		t.Fatalf("page modified (-want +got):\n%s", diff)
	}
}

const searchBody = `{"action_log": {}, "list_top_widgets": [], "data": {"nested": {"list_widgets": [
	{"widget_type": "SEARCH_DIVIDER_ROW", "data": {"title": "skip me"}},
	{
		"widget_type": "POST_ROW",
		"data": {
			"token": "Aa5BgqFj", "title": "گیتار یاماها C40",
			"action": {"payload": {"web_info": {"district_persian": "ونک", "city_persian": "تهران"}}},
			"image_url": "https://img/1.webp", "bottom_description_text": "دقایقی پیش",
			"has_chat": true, "red_text": "", "middle_description_text": "۸,۵۰۰,۰۰۰ تومان",
			"has_divider": false, "image_count": 3, "top_description_text": "در حد نو",
			"should_indicate_seen_status": true
		},
		"action_log": {"server_side_info": {"info": {"sort_date": "1719830000"}}}
	},
	{"widget_type": "POST_ROW", "data": {"token": "Bb", "title": "دوم"}},
	{"widget_type": "POST_ROW", "data": {"token": "Cc", "title": "سوم"}}
]}}}`

func TestSearch(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("POST", api+"/v8/postlist/w/search"): searchBody,
	}}
	res, err := newTestClient(f).Search(context.Background(), sites.Params{
		Query:    "گیتار",
		Category: "guitar-bass-amplifier",
		Limit:    2,
		Filters:  map[string]any{"price": map[string]any{"number_range": map[string]any{"maximum": 9000000}}},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := sitestest.Doc(t, `{
		"result_1": {
			"token": "Aa5BgqFj", "title": "گیتار یاماها C40",
			"district_persian": "ونک", "city_persian": "تهران",
			"image_url": "https://img/1.webp", "bottom_description_text": "دقایقی پیش",
			"has_chat": true, "red_text": "", "middle_description_text": "۸,۵۰۰,۰۰۰ تومان",
			"has_divider": false, "image_count": 3, "top_description_text": "در حد نو",
			"should_indicate_seen_status": true, "sort_date": "1719830000"
		},
		"result_2": {
			"token": "Bb", "title": "دوم",
			"district_persian": null, "city_persian": null,
			"image_url": null, "bottom_description_text": null,
			"has_chat": null, "red_text": null, "middle_description_text": null,
			"has_divider": null, "image_count": null, "top_description_text": null,
			"should_indicate_seen_status": null, "sort_date": null
		}
	}`)
	if diff := cmp.Diff(want, sitestest.Normalize(t, res.Output)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records=%d want 2", len(res.Records))
	}

	formData, _ := extract.Lookup(f.Calls()[0].Body, extract.MustPath("search_data.form_data.data"))
	wantForm := sitestest.Doc(t, `{
		"category": {"str": {"value": "guitar-bass-amplifier"}},
		"price": {"number_range": {"maximum": 9000000}}
	}`)
	if diff := cmp.Diff(wantForm, formData); diff != "" {
		t.Fatalf("form data (-want +got):\n%s", diff)
	}
}

func TestSearchNoPosts(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`{}`,
		`{"list_widgets": null}`,
		`{"list_widgets": [{"widget_type": "SEARCH_DIVIDER_ROW"}]}`,
	} {
		f := &sitestest.Fetcher{Bodies: map[string]string{
			sitestest.Key("POST", api+"/v8/postlist/w/search"): body,
		}}
		_, err := newTestClient(f).Search(context.Background(), sites.Params{Query: "x"})
		if !errors.Is(err, sites.ErrNoResults) {
			t.Fatalf("body %s: err=%v want ErrNoResults", body, err)
		}
	}
}

const postBody = `{"sections": [
	{"section_name": "BREADCRUMB", "widgets": [{"data": {"parent_items": [{"title": "لوازم شخصی"}, {"title": "آلات موسیقی"}, {"no_title": 1}]}}]},
	{"section_name": "TITLE", "widgets": [{"data": {"title": "گیتار یاماها", "subtitle": "لحظاتی پیش در تهران"}}]},
	{"section_name": "DESCRIPTION", "widgets": [
		{"widget_type": "TITLE_ROW", "data": {"text": "توضیحات"}},
		{"widget_type": "DESCRIPTION_ROW", "data": {"text": "  سالم و تمیز \n"}}
	]},
	{"section_name": "IMAGE", "widgets": [{"data": {"items": [
		{"image": {"url": "https://img/a.jpg"}}, {"image": {}}, {"video": {}}, {"image": {"url": "https://img/b.jpg"}}
	]}}]},
	{"section_name": "LIST_DATA", "widgets": [
		{"widget_type": "GROUP_INFO_ROW", "data": {"items": [{"title": "برند", "value": "یاماها"}, {"title": "وضعیت", "value": "در حد نو"}]}},
		{"widget_type": "UNEXPANDABLE_ROW", "data": {"title": "قیمت", "value": "۸,۵۰۰,۰۰۰ تومان"}},
		{"widget_type": "SCORE_ROW", "data": {"title": "کیفیت", "descriptive_score": "عالی"}},
		{"widget_type": "DIVIDER"}
	]},
	{"section_name": "MAP", "widgets": [{"data": {"location": {"exact_data": {"point": {"latitude": 35.75, "longitude": 51.41}}}}}]}
]}`

func TestPostDetails(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("GET", api+"/v8/posts-v2/web/Aa5BgqFj"): postBody,
	}}
	res, err := newTestClient(f).PostDetails(context.Background(), sites.Params{Token: "Aa5BgqFj"})
	if err != nil {
		t.Fatalf("PostDetails: %v", err)
	}
	if res.FieldErrors != nil {
		t.Fatalf("FieldErrors: %v", res.FieldErrors)
	}

	want := sitestest.Doc(t, `{
		"categories": ["لوازم شخصی", "آلات موسیقی"],
		"title": "گیتار یاماها",
		"subtitle": "لحظاتی پیش در تهران",
		"description": "سالم و تمیز",
		"image_urls": ["https://img/a.jpg", "https://img/b.jpg"],
		"details": {"برند": "یاماها", "وضعیت": "در حد نو", "قیمت": "۸,۵۰۰,۰۰۰ تومان", "کیفیت": "عالی"},
		"location": {"latitude": 35.75, "longitude": 51.41}
	}`)
	if diff := cmp.Diff(want, sitestest.Normalize(t, res.Output)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestPostDetailsSparse(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("GET", api+"/v8/posts-v2/web/t1"): `{"sections": [
			{"section_name": "DESCRIPTION", "widgets": [{"widget_type": "TITLE_ROW", "data": {"text": "x"}}]}
		]}`,
		sitestest.Key("GET", api+"/v8/posts-v2/web/t2"): `{"error": "gone"}`,
	}}
	c := newTestClient(f)

	res, err := c.PostDetails(context.Background(), sites.Params{Token: "t1"})
	if err != nil {
		t.Fatalf("PostDetails: %v", err)
	}
	want := sitestest.Doc(t, `{
		"categories": [], "title": null, "subtitle": null, "description": null,
		"image_urls": [], "details": {}, "location": null
	}`)
	if diff := cmp.Diff(want, sitestest.Normalize(t, res.Output)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.PostDetails(context.Background(), sites.Params{Token: "t2"}); !errors.Is(err, sites.ErrNoResults) {
		t.Fatalf("err=%v want ErrNoResults", err)
	}
	if _, err := c.PostDetails(context.Background(), sites.Params{}); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestListDetailsRejectsNonList(t *testing.T) {
	t.Parallel()

	if _, err := listDetails("nope"); !errors.Is(err, extract.ErrTransform) {
		t.Fatalf("err=%v want ErrTransform", err)
	}
}
