package document

import (
	"slices"

	"github.com/meghashyamc/presssync/config"
)

// MetaAllowList decides which meta keys reach the index and which casts each
// one gets.
type MetaAllowList interface {
	Casts(postType string, key string) ([]string, bool)
}

// StaticAllowList allows the same keys for every post type.
type StaticAllowList map[string][]string

func (l StaticAllowList) Casts(postType string, key string) ([]string, bool) {
	casts, ok := l[key]
	return casts, ok
}

// NewConfigAllowList builds the allow-list from sync.meta. Unknown cast names
// are ignored and a key with no types gets every cast.
func NewConfigAllowList(fields []config.MetaField) StaticAllowList {
	list := make(StaticAllowList, len(fields))
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		var casts []string
		for _, castType := range field.Types {
			if slices.Contains(AllCasts, castType) && !slices.Contains(casts, castType) {
				casts = append(casts, castType)
			}
		}
		if len(field.Types) == 0 {
			casts = AllCasts
		}
		list[field.Key] = casts
	}
	return list
}
