package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Avi18971911/Swarmtrace/internal/db/elasticsearch/model"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const SearchResultSize = 10

type RefreshRate string

const (
	// Wait for the changes made by the request to be made visible by a refresh before replying.
	Wait RefreshRate = "wait_for"
	// Immediate Refresh the relevant primary and replica shards (not the whole index) immediately after the operation occurs.
	Immediate RefreshRate = "true"
	// Async Take no refresh related actions. The changes made by this request will be made visible at some point after the request returns.
	Async RefreshRate = "false"
)

type MetaMap map[string]interface{}
type DocumentMap map[string]interface{}

type TraceClient interface {
	// BulkIndex indexes (inserts) multiple documents in the same index
	// https://www.elastic.co/guide/en/elasticsearch/reference/master/docs-bulk.html
	BulkIndex(ctx context.Context, metaInfo []MetaMap, documentInfo []DocumentMap, index string) error
	// Search searches for documents in the index
	// https://www.elastic.co/guide/en/elasticsearch/reference/master/search-search.html
	// queryResultSize is the number of results to return, nil for default
	Search(ctx context.Context, query string, indices []string, queryResultSize *int) ([]map[string]interface{}, error)
	// Count counts the number of documents in the index matching the query
	// https://www.elastic.co/guide/en/elasticsearch/reference/master/search-count.html
	Count(ctx context.Context, query string, indices []string) (int64, error)
}

type TraceClientImpl struct {
	es          *elasticsearch.Client
	refreshRate string
}

func NewTraceClientImpl(es *elasticsearch.Client, refreshRate RefreshRate) *TraceClientImpl {
	return &TraceClientImpl{es: es, refreshRate: string(refreshRate)}
}

func (tc *TraceClientImpl) BulkIndex(
	ctx context.Context,
	metaInfo []MetaMap,
	data []DocumentMap,
	index string,
) error {
	var buf bytes.Buffer
	for i, d := range data {
		var meta MetaMap
		if metaInfo != nil && i < len(metaInfo) {
			meta = metaInfo[i]
		} else {
			// empty meta for bulk index
			meta = MetaMap{"index": map[string]interface{}{}}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("error marshaling meta to bulk index: %w", err)
		}
		buf.Write(metaJSON)
		buf.WriteByte('\n')

		dataJSON, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("error marshaling data to bulk index: %w", err)
		}
		buf.Write(dataJSON)
		buf.WriteByte('\n')
	}

	opts := []func(*esapi.BulkRequest){
		tc.es.Bulk.WithContext(ctx),
		tc.es.Bulk.WithRefresh(tc.refreshRate),
	}
	if len(index) > 0 {
		opts = append(opts, tc.es.Bulk.WithIndex(index))
	}
	res, err := tc.es.Bulk(bytes.NewReader(buf.Bytes()), opts...)
	if err != nil {
		return fmt.Errorf("error bulk indexing: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index error: %s", res.String())
	}

	var bulkResponse model.BulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResponse); err != nil {
		return fmt.Errorf("failed to decode bulk response body: %w", err)
	}
	if bulkResponse.Errors {
		return fmt.Errorf("%w: %s", ErrBulkItemsFailed, firstBulkError(bulkResponse))
	}
	return nil
}

func (tc *TraceClientImpl) Search(
	ctx context.Context,
	query string,
	indices []string,
	queryResultSize *int,
) ([]map[string]interface{}, error) {
	res, err := tc.es.Search(
		tc.es.Search.WithContext(ctx),
		tc.es.Search.WithIndex(indices...),
		tc.es.Search.WithBody(strings.NewReader(query)),
		tc.es.Search.WithSize(getQuerySize(queryResultSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("failed to execute query: %s", res.String())
	}

	var esResponse model.EsResponse
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	results := make([]map[string]interface{}, 0, len(esResponse.Hits.HitArray))
	for _, hit := range esResponse.Hits.HitArray {
		source := hit.Source
		if source == nil {
			source = map[string]interface{}{}
		}
		source["_id"] = hit.ID
		results = append(results, source)
	}
	return results, nil
}

func (tc *TraceClientImpl) Count(
	ctx context.Context,
	query string,
	indices []string,
) (int64, error) {
	res, err := tc.es.Count(
		tc.es.Count.WithContext(ctx),
		tc.es.Count.WithIndex(indices...),
		tc.es.Count.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("failed to execute query: %s", res.String())
	}

	var countResponse model.CountResponse
	if err := json.NewDecoder(res.Body).Decode(&countResponse); err != nil {
		return 0, fmt.Errorf("failed to decode response body: %w", err)
	}
	return int64(countResponse.Count), nil
}

func getQuerySize(querySize *int) int {
	if querySize == nil {
		return SearchResultSize
	}
	return *querySize
}

func firstBulkError(response model.BulkResponse) string {
	for _, item := range response.Items {
		for action, outcome := range item {
			if outcome.Error != nil {
				return fmt.Sprintf("%s %s: %s", action, outcome.ID, outcome.Error.Reason)
			}
		}
	}
	return "unknown item failure"
}
