package extractor

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/smartexam/paperingest/internal/domain"
)

func TestNormalizeFieldVariants(t *testing.T) {
	testCases := []struct {
		name     string
		payload  string
		wantText string
		wantType domain.QuestionType
		wantSeq  int
	}{
		{
			name:     "canonical fields",
			payload:  `{"text":"What is 2+2?","type":"single","seq":3}`,
			wantText: "What is 2+2?",
			wantType: domain.QuestionTypeSingle,
			wantSeq:  3,
		},
		{
			name:     "legacy field names",
			payload:  `{"question_text":"Solve for x","question_type":"fill","sequence_number":7}`,
			wantText: "Solve for x",
			wantType: domain.QuestionTypeFill,
			wantSeq:  7,
		},
		{
			name:     "stem alias and unknown type",
			payload:  `{"stem":"Discuss the causes","detected_type":"essay"}`,
			wantText: "Discuss the causes",
			wantType: domain.QuestionTypeUnknown,
			wantSeq:  0,
		},
		{
			name:     "sequence as string",
			payload:  `{"text":"True or false?","type":"judge","sequence":"12"}`,
			wantText: "True or false?",
			wantType: domain.QuestionTypeJudge,
			wantSeq:  12,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Normalize(json.RawMessage(tc.payload))
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if c.Extraction.Text != tc.wantText {
				t.Errorf("text = %q, want %q", c.Extraction.Text, tc.wantText)
			}
			if c.Type != tc.wantType {
				t.Errorf("type = %q, want %q", c.Type, tc.wantType)
			}
			if c.Sequence != tc.wantSeq {
				t.Errorf("sequence = %d, want %d", c.Sequence, tc.wantSeq)
			}
		})
	}
}

func TestNormalizeStringEncodedPayload(t *testing.T) {
	inner := `{"text":"Pick one","type":"single","confidence":0.9}`
	raw, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	c, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed on string-encoded payload: %v", err)
	}
	if c.Extraction.Text != "Pick one" {
		t.Errorf("text = %q, want %q", c.Extraction.Text, "Pick one")
	}
	if c.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", c.Confidence)
	}
}

func TestNormalizeOptions(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "array form",
			payload: `{"text":"q","options":["A. one","B. two"]}`,
			want:    []string{"A. one", "B. two"},
		},
		{
			name:    "map form flattened in label order",
			payload: `{"text":"q","options":{"B":"two","A":"one","C":"three"}}`,
			want:    []string{"A. one", "B. two", "C. three"},
		},
		{
			name:    "missing options",
			payload: `{"text":"q"}`,
			want:    nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Normalize(json.RawMessage(tc.payload))
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if !reflect.DeepEqual(c.Extraction.Options, tc.want) {
				t.Errorf("options = %v, want %v", c.Extraction.Options, tc.want)
			}
		})
	}
}

func TestNormalizeConfidence(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    float64
	}{
		{name: "fraction kept", payload: `{"text":"q","confidence":0.85}`, want: 0.85},
		{name: "percentage scaled", payload: `{"text":"q","confidence":85}`, want: 0.85},
		{name: "string parsed", payload: `{"text":"q","confidence":"0.5"}`, want: 0.5},
		{name: "negative clamped", payload: `{"text":"q","confidence":-3}`, want: 0},
		{name: "over hundred clamped", payload: `{"text":"q","confidence":250}`, want: 1},
		{name: "missing defaults to zero", payload: `{"text":"q"}`, want: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Normalize(json.RawMessage(tc.payload))
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if c.Confidence != tc.want {
				t.Errorf("confidence = %v, want %v", c.Confidence, tc.want)
			}
		})
	}
}

func TestNormalizeRejectsUnusablePayloads(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
	}{
		{name: "empty text", payload: `{"text":"  "}`},
		{name: "no text at all", payload: `{"type":"single"}`},
		{name: "not an object", payload: `[1,2,3]`},
		{name: "string without object inside", payload: `"just a sentence"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(json.RawMessage(tc.payload))
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestNormalizeKnowledgePoints(t *testing.T) {
	c, err := Normalize(json.RawMessage(`{"text":"q","candidate_kps":["algebra","geometry"]}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := []string{"algebra", "geometry"}
	if !reflect.DeepEqual(c.Extraction.KnowledgePoints, want) {
		t.Errorf("knowledge points = %v, want %v", c.Extraction.KnowledgePoints, want)
	}
}
