package llm

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var reNumberJunk = regexp.MustCompile(`[^0-9,.\-+]`)

// ParseNumber accepts JSON numbers and numeric strings in dot or comma
// decimal notation with optional thousands separators and currency noise
// ("1.234,56 TL", "1,234.56", "12,5", "%18"). ok is false for anything else.
func ParseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		return parseNumericString(t)
	}
	return 0, false
}

func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return 0, false
	}
	s = reNumberJunk.ReplaceAllString(s, "")
	if s == "" || s == "-" || s == "+" {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// the later separator is the decimal one
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || isThousandsGroup(s, lastComma) {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// isThousandsGroup reports whether the single separator at i is followed by
// exactly three digits and preceded by one to three digits ("1,250").
func isThousandsGroup(s string, i int) bool {
	head := strings.TrimLeft(s[:i], "+-")
	tail := s[i+1:]
	return len(tail) == 3 && len(head) >= 1 && len(head) <= 3
}
