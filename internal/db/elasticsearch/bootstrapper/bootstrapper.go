package bootstrapper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

const retries = 30
const waitTime = 5 * time.Second

type Bootstrapper struct {
	esClient *elasticsearch.Client
	clock    clock.Clock
	logger   *zap.Logger
}

func NewBootstrapper(esClient *elasticsearch.Client, clk clock.Clock, logger *zap.Logger) *Bootstrapper {
	return &Bootstrapper{
		esClient: esClient,
		clock:    clk,
		logger:   logger,
	}
}

func (bs *Bootstrapper) BootstrapElasticsearch(ctx context.Context) error {
	if err := bs.waitForElasticsearch(ctx, retries, waitTime); err != nil {
		return fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}

	if err := bs.createIndex(ctx, TraceEventIndexName, traceEventIndex); err != nil {
		return fmt.Errorf("error creating trace event index: %w", err)
	}
	return nil
}

func (bs *Bootstrapper) waitForElasticsearch(ctx context.Context, maxRetries int, delay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		res, err := bs.esClient.Info(bs.esClient.Info.WithContext(ctx))
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				bs.logger.Info("Elasticsearch is available")
				return nil
			}
		}
		bs.logger.Warn(fmt.Sprintf("Elasticsearch not available (attempt %d/%d), retrying...", i+1, maxRetries))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-bs.clock.After(delay):
		}
	}

	return fmt.Errorf("Elasticsearch is not available after %d attempts", maxRetries)
}

// createIndex leaves an existing index untouched so restarts keep their data.
func (bs *Bootstrapper) createIndex(ctx context.Context, indexName string, index map[string]interface{}) error {
	exists, err := bs.esClient.Indices.Exists(
		[]string{indexName},
		bs.esClient.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error checking index %s during bootstrap: %w", indexName, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		bs.logger.Info("Index already exists", zap.String("index_name", indexName))
		return nil
	}

	body, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("error marshaling index input during bootstrap: %w", err)
	}

	res, err := bs.esClient.Indices.Create(
		indexName,
		bs.esClient.Indices.Create.WithBody(bytes.NewReader(body)),
		bs.esClient.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error creating index during bootstrap %s: %w", indexName, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error response for index %s: %s", indexName, res.String())
	}

	bs.logger.Info("Successfully created index", zap.String("index_name", indexName))
	return nil
}
