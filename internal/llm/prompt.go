package llm

import (
	"fmt"
	"strings"
)

// SchemaPrompt is the system message for every engine. Models answer with
// the Masraf / MasrafAlt / Dosya keys shown here, so the text is a contract.
const SchemaPrompt = `Sadece GEÇERLİ JSON üret. Bulunamayan alanları null yap. ISO tarih (YYYY-MM-DD). Ondalık ayırıcı nokta (.) olsun. Açıklama yazma, yalnızca JSON döndür.
Şema:
{
 "Masraf": {"Kod": null, "BaslangicTarihi": "", "BitisTarihi": "", "Aciklama": "", "Bolum": null, "Hash": null},
 "MasrafAlt": [{"Kod": null, "MasrafTarihi": "", "MasrafTuru": "", "Butce": null, "Tedarikci": "", "Miktar": 1, "Birim": "", "BirimMasrafTutari": 0.0, "KDVOrani": 0, "ToplamMasrafTutari": 0.0, "Aciklama": ""}],
 "Dosya": [{"Kod": null, "Adi": null, "OrjinalAdi": "", "Hash": null, "MimeType": "", "Size": null, "Md5": null, "EklenmeTarihi": null}]
}`

const (
	textInstruction   = "Yukarıdaki içeriğe göre şemaya uygun JSON üret."
	visionInstruction = "Görsel faturadan şemaya uygun JSON üret."
)

// TextUserPrompt lays out the description, the e-mail body, every page text
// and optional tables, followed by the extraction instruction.
func TextUserPrompt(description string, pages []string, tables, email string) string {
	var parts []string
	if description != "" {
		parts = append(parts, fmt.Sprintf("Açıklama:\n%s\n", description))
	}
	if email != "" {
		parts = append(parts, fmt.Sprintf("E-posta:\n%s\n", email))
	}
	for i, t := range pages {
		parts = append(parts, fmt.Sprintf("# Sayfa %d\n%s\n", i+1, t))
	}
	if tables != "" {
		parts = append(parts, fmt.Sprintf("# Tablolar\n%s\n", tables))
	}
	parts = append(parts, textInstruction)
	return strings.Join(parts, "\n")
}

// VisionUserPrompt is the optional description followed by the instruction.
func VisionUserPrompt(description string) string {
	return strings.TrimSpace(description + "\n" + visionInstruction)
}
