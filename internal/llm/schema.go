package llm

// DraftJSONSchema returns a JSON-Schema (draft 2020-12 subset) for candidate
// drafts. It is deliberately loose on scalar types: numbers may arrive as
// strings and any field may be null. Candidates failing it go through
// SanitizeDraft and are dropped when they still fail.
func DraftJSONSchema() map[string]any {
	str := map[string]any{"type": []string{"string", "null"}}
	num := map[string]any{"type": []string{"number", "string", "null"}}
	date := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "null"},
			map[string]any{"type": "string", "pattern": `^(\d{4}-\d{2}-\d{2})?$`},
		},
	}

	header := map[string]any{
		"type": []string{"object", "null"},
		"properties": map[string]any{
			"Kod":             str,
			"BaslangicTarihi": date,
			"BitisTarihi":     date,
			"Aciklama":        str,
			"Bolum":           str,
			"Hash":            str,
		},
	}
	line := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"Kod":                str,
			"MasrafTarihi":       date,
			"MasrafTuru":         str,
			"Butce":              str,
			"Tedarikci":          str,
			"Miktar":             num,
			"Birim":              str,
			"BirimMasrafTutari":  num,
			"KDVOrani":           num,
			"ToplamMasrafTutari": num,
			"Aciklama":           str,
		},
	}
	file := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"Kod":           str,
			"Adi":           str,
			"OrjinalAdi":    str,
			"Hash":          str,
			"MimeType":      str,
			"Size":          num,
			"Md5":           str,
			"EklenmeTarihi": str,
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"Masraf":    header,
			"MasrafAlt": map[string]any{"type": []string{"array", "null"}, "items": line},
			"Dosya":     map[string]any{"type": []string{"array", "null"}, "items": file},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"Masraf"}},
			map[string]any{"required": []string{"MasrafAlt"}},
		},
	}
}
