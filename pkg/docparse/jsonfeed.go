package docparse

import (
	"encoding/json"
	"fmt"
	"strings"
)

func (p *Parser) parseJSON(content []byte) (DocumentMetadata, error) {
	var root any
	if err := json.Unmarshal(content, &root); err != nil {
		return DocumentMetadata{}, fmt.Errorf("json parse: %w", err)
	}

	md := DocumentMetadata{}
	if obj, ok := root.(map[string]any); ok {
		md.Title, _ = obj["title"].(string)
	}

	items := resolveItems(root, p.opts.ItemsPath)
	for _, raw := range items {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := FeedItem{
			Title:       stringField(obj, "title"),
			Description: stringField(obj, "description"),
			Link:        stringField(obj, "url"),
			Type:        stringField(obj, "type"),
			Severity:    stringField(obj, "severity"),
		}
		if item.Link == "" {
			item.Link = stringField(obj, "link")
		}
		for _, key := range []string{"timestamp", "published", "date"} {
			if v := stringField(obj, key); v != "" {
				item.PublishedRaw = v
				item.Published = ParseFeedTime(v)
				break
			}
		}
		md.Items = append(md.Items, item)
	}

	var text strings.Builder
	text.WriteString(md.Title)
	for _, it := range md.Items {
		text.WriteString(" ")
		text.WriteString(it.Title)
		text.WriteString(" ")
		text.WriteString(it.Description)
	}
	p.fillTextExtracts(&md, text.String())
	return md, nil
}

// resolveItems walks a dot-separated path into the document and returns the
// array found there. A top-level array satisfies any path.
func resolveItems(root any, path string) []any {
	if arr, ok := root.([]any); ok {
		return arr
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[seg]
		if !ok {
			return nil
		}
	}
	arr, _ := cur.([]any)
	return arr
}

func stringField(obj map[string]any, key string) string {
	v, _ := obj[key].(string)
	return strings.TrimSpace(v)
}
