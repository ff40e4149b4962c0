package searchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// BulkIndex indexes documents in a single bulk request. Documents flagged
// Skip are deleted one by one instead, so that a post which stopped being
// indexable (unpublished, trashed) disappears from the index.
func (c *Client) BulkIndex(ctx context.Context, documents []BulkDocument) (*BulkResult, error) {
	ctx = Background(ctx)
	result := &BulkResult{}

	var body bytes.Buffer
	indexed := 0
	for _, doc := range documents {
		if doc.Skip {
			if err := c.DeleteDocument(ctx, doc.ID); err != nil {
				c.logger.Warn("could not delete non-indexable document", "id", doc.ID, "err", err.Error())
			}
			result.Skipped = append(result.Skipped, doc.ID)
			continue
		}

		if err := writeBulkEntry(&body, doc); err != nil {
			c.logger.Error("could not encode document for bulk request", "id", doc.ID, "err", err.Error())
			return result, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
		indexed++
	}

	if indexed == 0 {
		result.StatusCode = http.StatusOK
		return result, nil
	}

	resp, err := c.do(ctx, http.MethodPost, c.indexPath("/_bulk"), body.Bytes(), contentTypeNDJSON)
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}
	if err != nil {
		return result, err
	}
	if resp.StatusCode != http.StatusOK {
		return result, &EngineError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	parsed, err := parseBulkResponse(resp.Body)
	if err != nil {
		c.logger.Error("could not parse bulk response", "err", err.Error())
		return result, err
	}
	result.Took = parsed.Took
	result.Errors = parsed.Errors
	result.Items = parsed.Items

	return result, nil
}

// writeBulkEntry appends one action/document pair. The bulk format is newline
// delimited, so every line is compacted, stripped of invalid UTF-8 and has any
// remaining raw newline escaped.
func writeBulkEntry(buf *bytes.Buffer, doc BulkDocument) error {
	action, err := json.Marshal(map[string]any{"index": map[string]string{"_id": doc.ID}})
	if err != nil {
		return err
	}

	source, err := json.Marshal(doc.Source)
	if err != nil {
		return err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, source); err != nil {
		return err
	}

	buf.Write(sanitizeBulkLine(action))
	buf.WriteByte('\n')
	buf.Write(sanitizeBulkLine(compact.Bytes()))
	buf.WriteByte('\n')
	return nil
}

func sanitizeBulkLine(line []byte) []byte {
	line = bytes.ToValidUTF8(line, nil)
	line = bytes.ReplaceAll(line, []byte("\r"), []byte(`\r`))
	return bytes.ReplaceAll(line, []byte("\n"), []byte(`\n`))
}

type parsedBulk struct {
	Took   int
	Errors bool
	Items  []BulkItem
}

func parseBulkResponse(body []byte) (*parsedBulk, error) {
	var response bulkResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}
	if response.Items == nil {
		return nil, fmt.Errorf("%w: bulk response has no items", ErrInvalidResponse)
	}

	parsed := &parsedBulk{Took: response.Took, Errors: response.Errors}
	for _, entry := range response.Items {
		// each entry holds exactly one action key: index, create, update or delete
		for _, raw := range entry {
			var item BulkItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
			}
			item.Raw = raw
			parsed.Items = append(parsed.Items, item)
		}
	}

	return parsed, nil
}
