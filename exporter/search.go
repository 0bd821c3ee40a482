package exporter

import (
	"strings"

	"github.com/Velocidex/ordereddict"
)

// Search returns the rows where any string value contains keyword,
// ignoring case. Nested dicts and lists are searched too.
func Search(rows []*ordereddict.Dict, keyword string) []*ordereddict.Dict {
	result := []*ordereddict.Dict{}
	keyword = strings.ToLower(keyword)
	for _, row := range rows {
		if containsKeyword(row, keyword) {
			result = append(result, row)
		}
	}
	return result
}

func containsKeyword(value interface{}, keyword string) bool {
	switch t := value.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), keyword)

	case *ordereddict.Dict:
		for _, key := range t.Keys() {
			v, _ := t.Get(key)
			if containsKeyword(v, keyword) {
				return true
			}
		}

	case []string:
		for _, item := range t {
			if containsKeyword(item, keyword) {
				return true
			}
		}

	case []interface{}:
		for _, item := range t {
			if containsKeyword(item, keyword) {
				return true
			}
		}
	}
	return false
}

// FilterEvents keeps the events where any column contains keyword.
func FilterEvents(events []*Event, keyword string) []*Event {
	result := []*Event{}
	keyword = strings.ToLower(keyword)
	for idx, row := range EventRows(events) {
		if containsKeyword(row, keyword) {
			result = append(result, events[idx])
		}
	}
	return result
}
