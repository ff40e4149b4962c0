package searchdb

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Response is what every engine call returns. Body is always valid JSON, even
// when the request never reached the engine.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
}

// LastRequest records the most recent call for diagnostics.
type LastRequest struct {
	Time            time.Time   `json:"time"`
	Method          string      `json:"method"`
	URL             string      `json:"url"`
	Params          string      `json:"params,omitempty"`
	ResponseCode    int         `json:"response_code"`
	ResponseHeaders http.Header `json:"response_headers,omitempty"`
	RawResponse     string      `json:"raw_response"`
}

// ErrorEnvelope is the body synthesized for transport failures.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type SearchResponse struct {
	Took         int                        `json:"took"`
	TimedOut     bool                       `json:"timed_out"`
	Hits         Hits                       `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations,omitempty"`
}

type Hits struct {
	Total    Total    `json:"total"`
	MaxScore *float64 `json:"max_score"`
	Hits     []Hit    `json:"hits"`
}

type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source,omitempty"`
	Fields map[string]any  `json:"fields,omitempty"`
}

// Total accepts both the legacy integer form of hits.total and the
// {"value": n, "relation": "eq"} object form.
type Total struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

func (t *Total) UnmarshalJSON(data []byte) error {
	var value int64
	if err := json.Unmarshal(data, &value); err == nil {
		t.Value = value
		t.Relation = "eq"
		return nil
	}

	type total Total
	var object total
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("invalid hits.total: %w", err)
	}
	*t = Total(object)
	return nil
}

type ClusterHealth struct {
	ClusterName   string `json:"cluster_name"`
	Status        string `json:"status"`
	TimedOut      bool   `json:"timed_out"`
	NumberOfNodes int    `json:"number_of_nodes"`
}

type bulkResponse struct {
	Took   int                          `json:"took"`
	Errors bool                         `json:"errors"`
	Items  []map[string]json.RawMessage `json:"items"`
}

type countResponse struct {
	Count int64 `json:"count"`
}
