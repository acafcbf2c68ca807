package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var jsonFence = regexp.MustCompile("(?s)```json(.*?)```")

// ErrNotArray is returned when an expert response parses as JSON but is not
// an array.
var ErrNotArray = errors.New("expert response is not a JSON array")

type rawEntry struct {
	Line     *json.Number `json:"line"`
	Comment  string       `json:"comment"`
	Severity string       `json:"severity"`
}

// ParseRawFindings extracts the findings array from an expert response. A
// ```json fenced block anywhere in the text wins; otherwise the whole text
// must be JSON. Entries with a missing or non-integral line, an empty
// comment, or an unknown severity are dropped and counted.
func ParseRawFindings(content string) ([]RawFinding, int, error) {
	var elems []json.RawMessage
	parsed := false
	if m := jsonFence.FindStringSubmatch(content); m != nil {
		if err := decodeArray(m[1], &elems); err == nil {
			parsed = true
		}
	}
	if !parsed {
		if err := decodeArray(content, &elems); err != nil {
			return nil, 0, err
		}
	}

	findings := make([]RawFinding, 0, len(elems))
	dropped := 0
	for _, el := range elems {
		f, ok := validEntry(el)
		if !ok {
			dropped++
			continue
		}
		findings = append(findings, f)
	}
	return findings, dropped, nil
}

func decodeArray(text string, out *[]json.RawMessage) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty expert response")
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: trailing data")
	}
	if _, ok := v.([]any); !ok {
		return ErrNotArray
	}
	return json.Unmarshal([]byte(text), out)
}

func validEntry(el json.RawMessage) (RawFinding, bool) {
	if !bytes.HasPrefix(bytes.TrimSpace(el), []byte("{")) {
		return RawFinding{}, false
	}
	var e rawEntry
	dec := json.NewDecoder(bytes.NewReader(el))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil || e.Line == nil {
		return RawFinding{}, false
	}
	f, err := e.Line.Float64()
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return RawFinding{}, false
	}
	comment := strings.TrimSpace(e.Comment)
	if comment == "" {
		return RawFinding{}, false
	}
	sev, ok := ParseSeverity(e.Severity)
	if !ok {
		return RawFinding{}, false
	}
	return RawFinding{Line: int(f), Comment: comment, Severity: sev}, true
}
