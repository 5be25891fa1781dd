package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

var reDraftDate = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})?$`)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindDate
)

var (
	headerFields = map[string]fieldKind{
		"Kod": kindString, "BaslangicTarihi": kindDate, "BitisTarihi": kindDate,
		"Aciklama": kindString, "Bolum": kindString, "Hash": kindString,
	}
	lineFields = map[string]fieldKind{
		"Kod": kindString, "MasrafTarihi": kindDate, "MasrafTuru": kindString,
		"Butce": kindString, "Tedarikci": kindString, "Miktar": kindNumber,
		"Birim": kindString, "BirimMasrafTutari": kindNumber, "KDVOrani": kindNumber,
		"ToplamMasrafTutari": kindNumber, "Aciklama": kindString,
	}
	fileFields = map[string]fieldKind{
		"Kod": kindString, "Adi": kindString, "OrjinalAdi": kindString, "Hash": kindString,
		"MimeType": kindString, "Size": kindNumber, "Md5": kindString, "EklenmeTarihi": kindString,
	}
)

// SanitizeDraft brings a candidate that failed DraftJSONSchema back into
// shape: sections of the wrong type and non-object list elements are
// dropped, numbers and booleans in text fields become strings, dates not in
// YYYY-MM-DD become null and wrongly typed numeric fields are removed.
// It returns the cleaned JSON and the paths it touched.
func SanitizeDraft(raw []byte) ([]byte, []string, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}
	if root == nil {
		return nil, nil, fmt.Errorf("sanitize: candidate is not an object")
	}

	var dropped []string
	if v, ok := root["Masraf"]; ok && v != nil {
		if h, ok := v.(map[string]any); ok {
			dropped = sanitizeObject(h, headerFields, "Masraf", dropped)
		} else {
			delete(root, "Masraf")
			dropped = append(dropped, "Masraf(type)")
		}
	}
	dropped = sanitizeList(root, "MasrafAlt", lineFields, dropped)
	dropped = sanitizeList(root, "Dosya", fileFields, dropped)
	slices.Sort(dropped)

	out, err := json.Marshal(root)
	if err != nil {
		return nil, nil, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, dropped, nil
}

func sanitizeList(root map[string]any, key string, fields map[string]fieldKind, dropped []string) []string {
	v, ok := root[key]
	if !ok || v == nil {
		return dropped
	}
	arr, ok := v.([]any)
	if !ok {
		delete(root, key)
		return append(dropped, key+"(type)")
	}
	kept := make([]any, 0, len(arr))
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("%s[%d](type)", key, i))
			continue
		}
		dropped = sanitizeObject(obj, fields, fmt.Sprintf("%s[%d]", key, i), dropped)
		kept = append(kept, obj)
	}
	root[key] = kept
	return dropped
}

func sanitizeObject(obj map[string]any, fields map[string]fieldKind, path string, dropped []string) []string {
	for name, kind := range fields {
		v, ok := obj[name]
		if !ok || v == nil {
			continue
		}
		p := path + "." + name
		switch kind {
		case kindString:
			switch t := v.(type) {
			case string:
			case float64:
				obj[name] = strconv.FormatFloat(t, 'f', -1, 64)
				dropped = append(dropped, p+"(coerced)")
			case bool:
				obj[name] = strconv.FormatBool(t)
				dropped = append(dropped, p+"(coerced)")
			default:
				delete(obj, name)
				dropped = append(dropped, p+"(type)")
			}
		case kindDate:
			if s, ok := v.(string); !ok || !reDraftDate.MatchString(s) {
				obj[name] = nil
				dropped = append(dropped, p+"(format)")
			}
		case kindNumber:
			switch v.(type) {
			case float64, string:
			default:
				delete(obj, name)
				dropped = append(dropped, p+"(type)")
			}
		}
	}
	return dropped
}
