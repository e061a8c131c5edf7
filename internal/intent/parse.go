package intent

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
)

// wireIntent is the payload shape the model is asked to produce.
type wireIntent struct {
	QueryType    string     `json:"query_type"`
	QueryTypeAlt string     `json:"queryType"`
	Conditions   Conditions `json:"conditions"`
	Sort         string     `json:"sort"`
	Limit        *float64   `json:"limit"`
	Confidence   *float64   `json:"confidence"`
	Explanation  string     `json:"explanation"`
}

// Parse decodes an extracted payload into a validated Intent. A payload of
// type "unknown" is returned without further checks so the caller can answer
// in prose.
func Parse(payload string) (Intent, error) {
	data := bytes.TrimSpace([]byte(payload))
	if len(data) == 0 {
		return Intent{}, apperr.Validation("payload", "empty payload")
	}

	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return Intent{}, apperr.Validation("payload", err.Error())
		}
		if len(items) == 0 {
			return Intent{}, apperr.Validation("payload", "empty array")
		}
		data = items[0]
	}

	var w wireIntent
	if err := json.Unmarshal(data, &w); err != nil {
		return Intent{}, apperr.Validation("payload", err.Error())
	}

	qt := w.QueryType
	if qt == "" {
		qt = w.QueryTypeAlt
	}
	in := Intent{
		Type:        QueryType(strings.ToLower(strings.TrimSpace(qt))),
		Conditions:  w.Conditions,
		Sort:        normalizeSort(w.Sort),
		Explanation: strings.TrimSpace(w.Explanation),
	}
	if w.Limit != nil {
		in.Limit = int(*w.Limit)
		if in.Limit <= 0 {
			return Intent{}, apperr.Validation("limit", "must be positive")
		}
	}
	if w.Confidence != nil {
		in.Confidence = *w.Confidence
	}

	if in.Type == Unknown {
		return in, nil
	}
	if err := Validate(in); err != nil {
		return Intent{}, err
	}
	return in, nil
}

func normalizeSort(sort string) string {
	sort = strings.TrimSpace(sort)
	if sort == "" {
		return ""
	}
	field, dir, ok := SplitSort(sort)
	if !ok {
		// Keep the raw text so Validate can name it.
		return sort
	}
	return strings.ToLower(field) + " " + dir
}

var (
	fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\n?(.*?)```")
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// PlainText cleans a free-text model reply: fenced blocks are dropped and
// stray backticks removed.
func PlainText(raw string) string {
	text := fencedBlock.ReplaceAllString(raw, "")
	text = strings.ReplaceAll(text, "`", "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
