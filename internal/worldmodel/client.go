// Package worldmodel is the typed client for the external entity store
// (spec.md §4.1, §6 "External store wire"). It is a REST entity store
// indexed by (service, service-path, type, id); every attribute value is a
// nested {type, value, metadata} object. The control plane never retries
// transport errors itself — retry policy belongs to the caller
// (internal/move's ack-poll loop, internal/token's acquire/release).
package worldmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// ListNumLimit is the store's maximum page size for list/query calls
// (spec.md §6 constants: ORION_LIST_NUM_LIMIT).
const ListNumLimit = 1000

const entitiesPath = "/v2/entities"

// Attribute is one NGSI-style attribute: a typed value plus metadata.
// PayloadBuilder (internal/payload) stamps a TimeInstant into Metadata on
// every attribute it writes (spec.md §4.2, §6).
type Attribute struct {
	Type     string                 `json:"type,omitempty"`
	Value    interface{}            `json:"value"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Entity is the raw attribute map returned by Get/Query.
type Entity map[string]Attribute

// Decode round-trips an attribute's Value through JSON into target. It is
// used to turn the store's untyped interface{} values into the domain
// structs in internal/model.
func (e Entity) Decode(attr string, target interface{}) error {
	a, ok := e[attr]
	if !ok {
		return fmt.Errorf("attribute %q not present", attr)
	}
	raw, err := json.Marshal(a.Value)
	if err != nil {
		return fmt.Errorf("attribute %q not serializable: %w", attr, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("attribute %q has unexpected shape: %w", attr, err)
	}
	return nil
}

// String returns attr's value as a string, failing if it is absent or not
// a string (spec.md §4.1: "Inputs must be strings; violations fail with
// InvalidArgument").
func (e Entity) String(attr string) (string, error) {
	a, ok := e[attr]
	if !ok {
		return "", fmt.Errorf("attribute %q not present", attr)
	}
	s, ok := a.Value.(string)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", attr)
	}
	return s, nil
}

// Config holds connection settings for the external store.
type Config struct {
	Endpoint    string
	BearerToken string
	Timeout     time.Duration
}

// Client is the typed get/query/patch client described by spec.md §4.1.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logger.Logger
	getGroup   singleflight.Group
}

// New builds a Client against the configured store endpoint.
func New(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

func (c *Client) headers(service, servicePath string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("FIWARE-SERVICE", service)
	h.Set("FIWARE-SERVICEPATH", servicePath)
	if c.cfg.BearerToken != "" {
		h.Set("Authorization", "bearer "+c.cfg.BearerToken)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, rawURL string, service, servicePath string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Validation("payload is not JSON-serializable: %v", err).WithField("url", rawURL)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to build request to world-model")
	}
	req.Header = c.headers(service, servicePath)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.InternalWrap(err, "world-model request failed")
	}
	return resp, nil
}

// Get fetches a single entity by (service, servicePath, type, id). Concurrent
// Gets for the same key are collapsed into one upstream request via
// singleflight — the notification pipeline and the status endpoint routinely
// read the same robot entity from different goroutines within a few
// milliseconds of each other.
func (c *Client) Get(ctx context.Context, service, servicePath, entityType, id string) (Entity, error) {
	if service == "" || servicePath == "" || entityType == "" || id == "" {
		return nil, apperrors.Validation("Get requires non-empty service/servicePath/type/id")
	}

	key := service + "\x00" + servicePath + "\x00" + entityType + "\x00" + id
	v, err, _ := c.getGroup.Do(key, func() (interface{}, error) {
		return c.getUncached(ctx, service, servicePath, entityType, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(Entity), nil
}

func (c *Client) getUncached(ctx context.Context, service, servicePath, entityType, id string) (Entity, error) {
	u := fmt.Sprintf("%s%s/%s?type=%s", c.cfg.Endpoint, entitiesPath, url.PathEscape(id), url.QueryEscape(entityType))

	resp, err := c.do(ctx, http.MethodGet, u, service, servicePath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFound("entity not found, type=%s id=%s", entityType, id)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Internal("world-model returned status %d for Get(%s,%s)", resp.StatusCode, entityType, id).WithRootCause(string(body))
	}

	var entity Entity
	if err := json.Unmarshal(body, &entity); err != nil {
		return nil, apperrors.InternalWrap(err, "could not decode entity body")
	}
	c.logger.Debug("world-model get", map[string]interface{}{"type": entityType, "id": id})
	return entity, nil
}

// Query fetches exactly one entity matching a semicolon-joined list of
// attr==value predicates, failing if the result is not exactly one entity
// (spec.md §4.1).
func (c *Client) Query(ctx context.Context, service, servicePath, entityType, query string) (Entity, error) {
	if service == "" || servicePath == "" || entityType == "" {
		return nil, apperrors.Validation("Query requires non-empty service/servicePath/type")
	}
	u := fmt.Sprintf("%s%s?type=%s&q=%s&limit=%d",
		c.cfg.Endpoint, entitiesPath, url.QueryEscape(entityType), url.QueryEscape(query), ListNumLimit)

	resp, err := c.do(ctx, http.MethodGet, u, service, servicePath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFound("no entity matched query, type=%s q=%s", entityType, query)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Internal("world-model returned status %d for Query(%s,%s)", resp.StatusCode, entityType, query).WithRootCause(string(body))
	}

	var entities []Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, apperrors.InternalWrap(err, "could not decode query results")
	}
	if len(entities) != 1 {
		return nil, apperrors.Internal("query for type=%s q=%s returned %d entities, expected exactly 1", entityType, query, len(entities))
	}
	return entities[0], nil
}

// List bulk-fetches entities by id for a given type in one call (spec.md
// §4.3 step 5: "batch-fetch all places referenced by any route with one
// bulk list call"). The returned map is keyed by entity id.
func (c *Client) List(ctx context.Context, service, servicePath, entityType string, ids []string) (map[string]Entity, error) {
	if len(ids) == 0 {
		return map[string]Entity{}, nil
	}
	u := fmt.Sprintf("%s%s?type=%s&id=%s&limit=%d",
		c.cfg.Endpoint, entitiesPath, url.QueryEscape(entityType), url.QueryEscape(strings.Join(ids, ",")), ListNumLimit)

	resp, err := c.do(ctx, http.MethodGet, u, service, servicePath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Internal("world-model returned status %d for List(%s)", resp.StatusCode, entityType).WithRootCause(string(body))
	}

	var entities []Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, apperrors.InternalWrap(err, "could not decode list results")
	}

	out := make(map[string]Entity, len(entities))
	for _, e := range entities {
		id, err := e.String("id")
		if err != nil {
			continue
		}
		out[id] = e
	}
	return out, nil
}

// Patch updates attrs on a single entity. Non-2xx fails with Internal,
// except 404 which propagates as NotFound (spec.md §4.1, §7).
func (c *Client) Patch(ctx context.Context, service, servicePath, entityType, id string, attrs map[string]Attribute) error {
	if service == "" || servicePath == "" || entityType == "" || id == "" {
		return apperrors.Validation("Patch requires non-empty service/servicePath/type/id")
	}
	u := fmt.Sprintf("%s%s/%s/attrs?type=%s", c.cfg.Endpoint, entitiesPath, url.PathEscape(id), url.QueryEscape(entityType))

	resp, err := c.do(ctx, http.MethodPatch, u, service, servicePath, attrs)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return apperrors.NotFound("entity not found on patch, type=%s id=%s", entityType, id)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Internal("world-model returned status %d for Patch(%s,%s)", resp.StatusCode, entityType, id).WithRootCause(string(body))
	}
	c.logger.Debug("world-model patch", map[string]interface{}{"type": entityType, "id": id, "attrs": attrKeys(attrs)})
	return nil
}

// PatchUpsert behaves like Patch but asks the store to create the entity
// on first reference if it does not already exist (spec.md §3 Lifecycles:
// "Token entities are created on first reference and persisted").
func (c *Client) PatchUpsert(ctx context.Context, service, servicePath, entityType, id string, attrs map[string]Attribute) error {
	if service == "" || servicePath == "" || entityType == "" || id == "" {
		return apperrors.Validation("PatchUpsert requires non-empty service/servicePath/type/id")
	}
	u := fmt.Sprintf("%s%s/%s/attrs?type=%s&options=upsert", c.cfg.Endpoint, entitiesPath, url.PathEscape(id), url.QueryEscape(entityType))

	resp, err := c.do(ctx, http.MethodPatch, u, service, servicePath, attrs)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Internal("world-model returned status %d for PatchUpsert(%s,%s)", resp.StatusCode, entityType, id).WithRootCause(string(body))
	}
	return nil
}

func attrKeys(attrs map[string]Attribute) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	return keys
}

// ParseTime parses an ISO-8601 timestamp, as used for TimeInstant and
// last_processed_time attribute values.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// FormatTime formats t with millisecond precision in the given location,
// matching the original's `datetime.now(TZ).isoformat()` stamps.
func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02T15:04:05.000Z07:00")
}
