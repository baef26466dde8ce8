package extractor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smartexam/paperingest/internal/domain"
)

// Candidate is a normalized extraction result ready for the item store.
type Candidate struct {
	Sequence   int
	Extraction domain.Extraction
	Type       domain.QuestionType
	Confidence float64
}

// Normalize coerces one loose engine payload into the fixed Extraction
// shape. Engine revisions have emitted the payload as a JSON object or as a
// JSON string containing an object, with several field-name variants; this
// is the single place those variants are resolved. Downstream code never
// re-parses ambiguous payloads.
func Normalize(raw json.RawMessage) (*Candidate, error) {
	obj, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	text := firstString(obj, "text", "question_text", "stem")
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "candidate has no question text"}
	}

	qtype := domain.ParseQuestionType(firstString(obj, "type", "question_type", "detected_type"))

	ext := domain.Extraction{
		Text:            strings.TrimSpace(text),
		DetectedType:    qtype,
		Options:         extractOptions(obj),
		Answer:          firstString(obj, "answer", "answer_text"),
		Analysis:        firstString(obj, "analysis", "explanation"),
		CropRef:         firstString(obj, "crop_ref", "crop_uri", "image"),
		KnowledgePoints: extractStrings(obj, "knowledge_points", "candidate_kps", "suggested_kps", "kps"),
	}

	return &Candidate{
		Sequence:   extractInt(obj, "seq", "sequence", "sequence_number"),
		Extraction: ext,
		Type:       qtype,
		Confidence: extractConfidence(obj),
	}, nil
}

// decodePayload unwraps the object, tolerating one level of string encoding.
func decodePayload(raw json.RawMessage) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Reason: "candidate payload is neither an object nor a JSON string"}
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Reason: fmt.Sprintf("string payload does not contain a JSON object: %v", err)}
	}
	return obj, nil
}

// firstString returns the first non-empty string among the candidate keys.
func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// extractOptions handles options emitted as an array of strings or as a
// label→text map ({"A": "...", "B": "..."}); maps are flattened in label
// order.
func extractOptions(obj map[string]interface{}) []string {
	v, ok := obj["options"]
	if !ok {
		v, ok = obj["options_json"]
	}
	if !ok || v == nil {
		return nil
	}

	switch opts := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(opts))
		for _, o := range opts {
			if s, ok := o.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]interface{}:
		labels := make([]string, 0, len(opts))
		for label := range opts {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		out := make([]string, 0, len(labels))
		for _, label := range labels {
			if s, ok := opts[label].(string); ok {
				out = append(out, label+". "+s)
			}
		}
		return out
	default:
		return nil
	}
}

// extractStrings returns the first key holding a string array.
func extractStrings(obj map[string]interface{}, keys ...string) []string {
	for _, k := range keys {
		arr, ok := obj[k].([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// extractInt returns the first key holding a number, zero otherwise.
func extractInt(obj map[string]interface{}, keys ...string) int {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// extractConfidence reads the confidence score and clamps it to [0,1].
// Older engine revisions report percentages; values in (1,100] are scaled.
func extractConfidence(obj map[string]interface{}) float64 {
	var c float64
	switch v := obj["confidence"].(type) {
	case float64:
		c = v
	case string:
		c, _ = strconv.ParseFloat(v, 64)
	default:
		return 0
	}

	if c > 1 && c <= 100 {
		c /= 100
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
