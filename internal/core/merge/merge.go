// Package merge combines a text and a vision candidate into one draft,
// checks line-item arithmetic and assigns a confidence.
package merge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// SumMismatchPath is where the line-item sum check reports.
const SumMismatchPath = "MasrafAlt[0].ToplamMasrafTutari"

// Result is a merged draft with its flags and confidence.
type Result struct {
	Draft      entity.ExpenseDraft
	Flags      []entity.ConflictFlag
	Confidence float64
}

// headerField selects one nullable header field.
type headerField func(h *entity.Header) **string

// headerPrecedence lists every header field; each takes the text value when
// present and non-empty, else the vision value.
var headerPrecedence = []headerField{
	func(h *entity.Header) **string { return &h.Code },
	func(h *entity.Header) **string { return &h.PeriodStart },
	func(h *entity.Header) **string { return &h.PeriodEnd },
	func(h *entity.Header) **string { return &h.Description },
	func(h *entity.Header) **string { return &h.Department },
	func(h *entity.Header) **string { return &h.Hash },
}

// Merge combines the candidates. Either side may be nil.
func Merge(vision, text *entity.ExpenseDraft) Result {
	v := orEmpty(vision)
	t := orEmpty(text)

	var out entity.ExpenseDraft
	for _, field := range headerPrecedence {
		*field(&out.Header) = firstNonEmpty(*field(&t.Header), *field(&v.Header))
	}

	// the longer list wins, text on ties
	lines := t.LineItems
	if len(v.LineItems) > len(t.LineItems) {
		lines = v.LineItems
	}
	out.LineItems = append([]entity.LineItem{}, lines...)

	files := t.Files
	if len(files) == 0 {
		files = v.Files
	}
	out.Files = append([]entity.FileDescriptor{}, files...)

	flags := CheckSums(out.LineItems)
	return Result{Draft: out, Flags: flags, Confidence: Confidence(flags)}
}

// CheckSums compares Σ(unit amount × quantity) with the first stated total.
// Missing unit amounts count as 0; missing or null quantities count as 1.
func CheckSums(lines []entity.LineItem) []entity.ConflictFlag {
	flags := []entity.ConflictFlag{}

	var calc float64
	var stated *float64
	for _, li := range lines {
		unit, qty := 0.0, 1.0
		if li.UnitAmount != nil {
			unit = *li.UnitAmount
		}
		if li.Quantity != nil {
			qty = *li.Quantity
		}
		calc += unit * qty
		if stated == nil && li.Total != nil {
			stated = li.Total
		}
	}
	if stated == nil {
		return flags
	}
	if math.Abs(calc-*stated) > constants.SumTolerance {
		flags = append(flags, entity.ConflictFlag{
			Path:   SumMismatchPath,
			Issue:  constants.IssueSumMismatch,
			Detail: fmt.Sprintf("calc=%s vs stated=%s", formatAmount(calc), formatAmount(*stated)),
		})
	}
	return flags
}

// Confidence is a pure function of the flags.
func Confidence(flags []entity.ConflictFlag) float64 {
	if len(flags) == 0 {
		return constants.ConfidenceClean
	}
	return constants.ConfidenceFlagged
}

func orEmpty(d *entity.ExpenseDraft) entity.ExpenseDraft {
	if d == nil {
		return entity.ExpenseDraft{}
	}
	return *d
}

func firstNonEmpty(vals ...*string) *string {
	for _, v := range vals {
		if v != nil && strings.TrimSpace(*v) != "" {
			s := *v
			return &s
		}
	}
	return nil
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}
