package merge

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/llm"
)

// DecodeCandidate turns raw model JSON into a draft. It never fails:
// non-object input, non-object sections and wrong-typed fields decode to
// empty or null values.
func DecodeCandidate(raw []byte) *entity.ExpenseDraft {
	d := &entity.ExpenseDraft{}
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil || root == nil {
		return d
	}

	if h, ok := root["Masraf"].(map[string]any); ok {
		d.Header = entity.Header{
			Code:        str(h["Kod"]),
			PeriodStart: str(h["BaslangicTarihi"]),
			PeriodEnd:   str(h["BitisTarihi"]),
			Description: str(h["Aciklama"]),
			Department:  str(h["Bolum"]),
			Hash:        str(h["Hash"]),
		}
	}

	for _, item := range objects(root["MasrafAlt"]) {
		d.LineItems = append(d.LineItems, entity.LineItem{
			Code:       str(item["Kod"]),
			Date:       str(item["MasrafTarihi"]),
			Type:       str(item["MasrafTuru"]),
			BudgetCode: str(item["Butce"]),
			Vendor:     str(item["Tedarikci"]),
			Quantity:   num(item["Miktar"]),
			Unit:       str(item["Birim"]),
			UnitAmount: num(item["BirimMasrafTutari"]),
			VATRate:    num(item["KDVOrani"]),
			Total:      num(item["ToplamMasrafTutari"]),
			Note:       str(item["Aciklama"]),
		})
	}

	for _, f := range objects(root["Dosya"]) {
		fd := entity.FileDescriptor{
			Code:         str(f["Kod"]),
			Name:         str(f["Adi"]),
			OriginalName: str(f["OrjinalAdi"]),
			Hash:         str(f["Hash"]),
			MimeType:     str(f["MimeType"]),
			MD5:          str(f["Md5"]),
			AddedAt:      str(f["EklenmeTarihi"]),
		}
		if n := num(f["Size"]); n != nil && *n >= 0 {
			size := int64(math.Round(*n))
			fd.Size = &size
		}
		d.Files = append(d.Files, fd)
	}
	return d
}

// objects keeps the object elements of a JSON array.
func objects(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(v any) *string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return &s
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	}
	return nil
}

func num(v any) *float64 {
	f, ok := llm.ParseNumber(v)
	if !ok {
		return nil
	}
	return &f
}
