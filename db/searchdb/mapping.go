package searchdb

const (
	IndexFieldID           = "post_id"
	IndexFieldTitle        = "post_title"
	IndexFieldExcerpt      = "post_excerpt"
	IndexFieldContent      = "post_content"
	IndexFieldStatus       = "post_status"
	IndexFieldParentStatus = "parent_status"
	IndexFieldParent       = "post_parent"
	IndexFieldType         = "post_type"
	IndexFieldName         = "post_name"
	IndexFieldMenuOrder    = "menu_order"
	IndexFieldAuthor       = "post_author"
	IndexFieldTerms        = "terms"
	IndexFieldMeta         = "post_meta"
)

// DateFields are the four decomposed date objects every document carries.
var DateFields = []string{"post_date", "post_date_gmt", "post_modified", "post_modified_gmt"}

// IndexMapping returns the settings and mappings the index is created with.
func IndexMapping() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	long := map[string]any{"type": "long"}
	textWithRaw := map[string]any{
		"type": "text",
		"fields": map[string]any{
			"raw": map[string]any{"type": "keyword", "ignore_above": 10922},
		},
	}

	properties := map[string]any{
		IndexFieldID:           long,
		IndexFieldTitle:        textWithRaw,
		IndexFieldExcerpt:      map[string]any{"type": "text"},
		IndexFieldContent:      map[string]any{"type": "text"},
		IndexFieldStatus:       keyword,
		IndexFieldParentStatus: keyword,
		IndexFieldParent:       long,
		IndexFieldType:         textWithRaw,
		IndexFieldName:         textWithRaw,
		IndexFieldMenuOrder:    long,
		"post_mime_type":       keyword,
		"comment_count":        long,
		"permalink":            keyword,
		IndexFieldAuthor: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id":       long,
				"login":         keyword,
				"display_name":  textWithRaw,
				"user_nicename": keyword,
			},
		},
		IndexFieldTerms: map[string]any{"type": "object", "dynamic": true},
		IndexFieldMeta:  map[string]any{"type": "object", "dynamic": true},
	}
	for _, field := range DateFields {
		properties[field] = dateMapping()
	}

	return map[string]any{
		"settings": map[string]any{
			"analysis": map[string]any{
				"analyzer": map[string]any{
					"default": map[string]any{
						"tokenizer": "standard",
						"filter":    []string{"lowercase", "asciifolding"},
					},
				},
			},
		},
		"mappings": map[string]any{
			"dynamic_templates": []any{
				map[string]any{"term_slugs": map[string]any{
					"path_match": IndexFieldTerms + ".*.slug",
					"mapping":    keyword,
				}},
				map[string]any{"term_names": map[string]any{
					"path_match": IndexFieldTerms + ".*.name",
					"mapping":    textWithRaw,
				}},
				map[string]any{"term_ids": map[string]any{
					"path_match": IndexFieldTerms + ".*.term_id",
					"mapping":    long,
				}},
				map[string]any{"meta_value": map[string]any{
					"path_match": IndexFieldMeta + ".*.value",
					"mapping":    map[string]any{"type": "text"},
				}},
				map[string]any{"meta_raw": map[string]any{
					"path_match": IndexFieldMeta + ".*.raw",
					"mapping":    map[string]any{"type": "keyword", "ignore_above": 10922},
				}},
				map[string]any{"meta_long": map[string]any{
					"path_match": IndexFieldMeta + ".*.long",
					"mapping":    long,
				}},
				map[string]any{"meta_double": map[string]any{
					"path_match": IndexFieldMeta + ".*.double",
					"mapping":    map[string]any{"type": "double"},
				}},
				map[string]any{"meta_boolean": map[string]any{
					"path_match": IndexFieldMeta + ".*.boolean",
					"mapping":    map[string]any{"type": "boolean"},
				}},
				map[string]any{"meta_date": map[string]any{
					"path_match": IndexFieldMeta + ".*.date",
					"mapping":    map[string]any{"type": "date", "format": "yyyy-MM-dd"},
				}},
				map[string]any{"meta_datetime": map[string]any{
					"path_match": IndexFieldMeta + ".*.datetime",
					"mapping":    map[string]any{"type": "date", "format": "yyyy-MM-dd HH:mm:ss"},
				}},
				map[string]any{"meta_time": map[string]any{
					"path_match": IndexFieldMeta + ".*.time",
					"mapping":    map[string]any{"type": "date", "format": "HH:mm:ss"},
				}},
			},
			"properties": properties,
		},
	}
}

func dateMapping() map[string]any {
	short := map[string]any{"type": "short"}
	integer := map[string]any{"type": "integer"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date":              map[string]any{"type": "date", "format": "yyyy-MM-dd HH:mm:ss"},
			"year":              short,
			"month":             map[string]any{"type": "byte"},
			"day":               map[string]any{"type": "byte"},
			"hour":              map[string]any{"type": "byte"},
			"minute":            map[string]any{"type": "byte"},
			"second":            map[string]any{"type": "byte"},
			"week":              map[string]any{"type": "byte"},
			"day_of_week":       map[string]any{"type": "byte"},
			"day_of_year":       short,
			"seconds_from_day":  integer,
			"seconds_from_hour": short,
		},
	}
}
