package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/config"
	"example.com/backstage/services/rewards/internal/models"
)

// ActivitySink records redemption activity for audit and history display
type ActivitySink interface {
	IndexActivity(ctx context.Context, docID string, record models.ActivityRecord) error
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewActivitySink creates an Elasticsearch sink. Without a URL it returns a
// sink that only logs activity.
func NewActivitySink(cfg config.ElasticConfig) (ActivitySink, error) {
	if cfg.URL == "" {
		log.Warn().Msg("Elasticsearch URL is empty, activity will only be logged")
		return LogSink{}, nil
	}
	return NewElasticClient(cfg)
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexActivity indexes one activity record. Reindexing the same docID
// overwrites the document.
func (c *ElasticClient) IndexActivity(ctx context.Context, docID string, record models.ActivityRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal activity document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, c.config.Index),
		DocumentID: docID,
		Body:       bytes.NewReader(doc),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError(res, "index")
	}

	log.Debug().Str("doc_id", docID).Str("item_id", record.ItemID).Msg("Activity indexed")
	return nil
}

// ActivityForIdentity returns the most recent activity of one identity
func (c *ElasticClient) ActivityForIdentity(ctx context.Context, identityID string, size int) ([]models.ActivityRecord, error) {
	query := map[string]interface{}{
		"size": size,
		"sort": []map[string]interface{}{
			{"occurred_at": map[string]string{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"term": map[string]interface{}{"identity_id": identityID},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{config.FormatIndex(c.config, c.config.Index)},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res, "search")
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source models.ActivityRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse search response")
	}

	records := make([]models.ActivityRecord, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		records = append(records, hit.Source)
	}
	return records, nil
}

// Ping checks that the cluster is reachable
func (c *ElasticClient) Ping(ctx context.Context) error {
	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "failed to ping Elasticsearch")
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res, "ping")
	}
	return nil
}

func responseError(res *esapi.Response, op string) error {
	var e map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Errorf("Elasticsearch %s error: %s", op, res.Status())
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}

// LogSink writes activity to the log instead of a search index
type LogSink struct{}

// IndexActivity logs the record
func (LogSink) IndexActivity(_ context.Context, docID string, record models.ActivityRecord) error {
	log.Info().
		Str("doc_id", docID).
		Str("identity_id", record.IdentityID).
		Str("item_id", record.ItemID).
		Str("outcome", record.Outcome).
		Int("mint_number", record.MintNumber).
		Msg("Redemption activity")
	return nil
}
