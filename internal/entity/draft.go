package entity

// ExpenseDraft is the canonical extraction output: header, line items and
// file descriptors. JSON names follow the ERP expense schema.
type ExpenseDraft struct {
	Header    Header           `json:"Masraf"`
	LineItems []LineItem       `json:"MasrafAlt"`
	Files     []FileDescriptor `json:"Dosya"`
}

// Header holds the expense-level fields.
type Header struct {
	Code        *string `json:"Kod"`
	PeriodStart *string `json:"BaslangicTarihi"` // YYYY-MM-DD
	PeriodEnd   *string `json:"BitisTarihi"`     // YYYY-MM-DD
	Description *string `json:"Aciklama"`
	Department  *string `json:"Bolum"`
	Hash        *string `json:"Hash"`
}

// LineItem is one expense line.
type LineItem struct {
	Code       *string  `json:"Kod"`
	Date       *string  `json:"MasrafTarihi"` // YYYY-MM-DD
	Type       *string  `json:"MasrafTuru"`
	BudgetCode *string  `json:"Butce"`
	Vendor     *string  `json:"Tedarikci"`
	Quantity   *float64 `json:"Miktar"`
	Unit       *string  `json:"Birim"`
	UnitAmount *float64 `json:"BirimMasrafTutari"`
	VATRate    *float64 `json:"KDVOrani"`
	Total      *float64 `json:"ToplamMasrafTutari"`
	Note       *string  `json:"Aciklama"`
}

// FileDescriptor describes one source file attached to the expense.
type FileDescriptor struct {
	Code         *string `json:"Kod"`
	Name         *string `json:"Adi"`
	OriginalName *string `json:"OrjinalAdi"`
	Hash         *string `json:"Hash"`
	MimeType     *string `json:"MimeType"`
	Size         *int64  `json:"Size"`
	MD5          *string `json:"Md5"`
	AddedAt      *string `json:"EklenmeTarihi"`
}

// Empty reports whether the draft carries no header value, no line item and
// no file.
func (d ExpenseDraft) Empty() bool {
	h := d.Header
	return h.Code == nil && h.PeriodStart == nil && h.PeriodEnd == nil &&
		h.Description == nil && h.Department == nil && h.Hash == nil &&
		len(d.LineItems) == 0 && len(d.Files) == 0
}
