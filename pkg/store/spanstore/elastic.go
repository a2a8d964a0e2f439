package spanstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/winterwell/aiqa/pkg/span"
)

// requestTimeout bounds every store round trip. A timeout classifies as a
// connection error, which the endpoint surfaces as 503.
const requestTimeout = 10 * time.Second

// Elastic implements Store over an Elasticsearch index.
type Elastic struct {
	client *elasticsearch.Client
	index  string
	logger *slog.Logger
}

// NewElastic creates a store over the index at url.
func NewElastic(url, index string, logger *slog.Logger) (*Elastic, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{
		client: client,
		index:  index,
		logger: logger.With("component", "spanstore"),
	}, nil
}

// unavailable wraps a transport-level failure as ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// BulkInsert indexes the batch in one bulk request.
func (e *Elastic) BulkInsert(ctx context.Context, spans []*span.Span) error {
	if len(spans) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var body bytes.Buffer
	for _, s := range spans {
		meta := map[string]map[string]string{
			"index": {"_index": e.index, "_id": s.ID},
		}
		if err := json.NewEncoder(&body).Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := json.NewEncoder(&body).Encode(s); err != nil {
			return fmt.Errorf("encode span %s: %w", s.ID, err)
		}
	}

	res, err := e.client.Bulk(bytes.NewReader(body.Bytes()),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return unavailable("bulk insert", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return e.responseError("bulk insert", res)
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkRes.Errors {
		return fmt.Errorf("bulk insert: %d items, some failed", len(bulkRes.Items))
	}
	return nil
}

// GetByID fetches one span, filtering on tenant after the keyed read.
func (e *Elastic) GetByID(ctx context.Context, id, tenant string) (*span.Span, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := e.client.Get(e.index, id, e.client.Get.WithContext(ctx))
	if err != nil {
		return nil, unavailable("get span", err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, e.responseError("get span", res)
	}

	var doc struct {
		Source span.Span `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode span %s: %w", id, err)
	}
	if doc.Source.Tenant != tenant {
		return nil, nil
	}
	return &doc.Source, nil
}

// Search runs a structured boolean query.
func (e *Elastic) Search(ctx context.Context, q *Query) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(buildSearchBody(q))
	if err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, unavailable("search spans", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, e.responseError("search spans", res)
	}

	var sr struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source span.Span `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := &Result{Total: sr.Hits.Total.Value}
	for i := range sr.Hits.Hits {
		out.Hits = append(out.Hits, &sr.Hits.Hits[i].Source)
	}
	return out, nil
}

// UpdatePartial merges patch into the document after a tenant-checked read.
func (e *Elastic) UpdatePartial(ctx context.Context, id, tenant string, patch map[string]any) (*span.Span, error) {
	existing, err := e.GetByID(ctx, id, tenant)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"doc": patch})
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	res, err := e.client.Update(e.index, id, bytes.NewReader(body),
		e.client.Update.WithContext(ctx),
		e.client.Update.WithRefresh("true"),
	)
	if err != nil {
		return nil, unavailable("update span", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, e.responseError("update span", res)
	}
	return e.GetByID(ctx, id, tenant)
}

// DeleteByIDs removes spans matched by span id and/or trace id.
func (e *Elastic) DeleteByIDs(ctx context.Context, tenant string, ids, traces []string) (int64, error) {
	if len(ids) == 0 && len(traces) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var should []map[string]any
	if len(ids) > 0 {
		should = append(should, map[string]any{"terms": map[string]any{"id": ids}})
	}
	if len(traces) > 0 {
		should = append(should, map[string]any{"terms": map[string]any{"trace": traces}})
	}
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"tenant": tenant}},
				},
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("encode delete query: %w", err)
	}

	res, err := e.client.DeleteByQuery([]string{e.index}, bytes.NewReader(body),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, unavailable("delete spans", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, e.responseError("delete spans", res)
	}

	var dr struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&dr); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return dr.Deleted, nil
}

// Ping verifies cluster reachability, for health checks.
func (e *Elastic) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return unavailable("ping", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return e.responseError("ping", res)
	}
	return nil
}

// responseError classifies an error response: 5xx is a store outage, the
// rest are caller errors.
func (e *Elastic) responseError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	if res.StatusCode >= 500 {
		return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, string(msg))
	}
	return fmt.Errorf("%s: status %d: %s", op, res.StatusCode, string(msg))
}

// buildSearchBody renders a Query as an Elasticsearch bool query.
func buildSearchBody(q *Query) map[string]any {
	filter := []map[string]any{
		{"term": map[string]any{"tenant": q.Tenant}},
	}
	for _, c := range q.Must {
		if len(c.Values) == 1 {
			filter = append(filter, map[string]any{
				"term": map[string]any{c.Field: c.Values[0]},
			})
		} else {
			filter = append(filter, map[string]any{
				"terms": map[string]any{c.Field: c.Values},
			})
		}
	}
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"filter": filter},
		},
	}
	if q.Limit > 0 {
		body["size"] = q.Limit
	}
	if q.Offset > 0 {
		body["from"] = q.Offset
	}
	if len(q.Sort) > 0 {
		var sorts []map[string]any
		for _, s := range q.Sort {
			order := "asc"
			if s.Desc {
				order = "desc"
			}
			sorts = append(sorts, map[string]any{s.Field: map[string]any{"order": order}})
		}
		body["sort"] = sorts
	}
	if len(q.SourceIncludes) > 0 || len(q.SourceExcludes) > 0 {
		src := map[string]any{}
		if len(q.SourceIncludes) > 0 {
			src["includes"] = q.SourceIncludes
		}
		if len(q.SourceExcludes) > 0 {
			src["excludes"] = q.SourceExcludes
		}
		body["_source"] = src
	}
	return body
}
