package research

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:[a-zA-Z]+)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSONBlock finds the structured object embedded in a model reply and
// decodes it into v.
//
// A fenced block (```json {...} ```, language tag optional) wins. Without a
// fence the span from the first '{' to the last '}' is used. A reply with no
// braces returns ErrNoStructuredBlock.
func ExtractJSONBlock(raw string, v any) error {
	raw = strings.TrimSpace(raw)

	block := ""
	if m := fencedJSONRe.FindStringSubmatch(raw); len(m) == 2 {
		block = m[1]
	} else {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end < start {
			return ErrNoStructuredBlock
		}
		block = raw[start : end+1]
	}

	if err := json.Unmarshal([]byte(block), v); err != nil {
		return fmt.Errorf("json parse error: %w", err)
	}
	return nil
}
