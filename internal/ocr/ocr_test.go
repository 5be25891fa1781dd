package ocr

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	out   map[string]string // keyed by last arg
	err   error
	calls [][]string
	seen  []byte
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if len(args) > 0 {
		s.seen, _ = os.ReadFile(args[0])
	}
	if s.err != nil {
		return nil, []byte("tesseract: cannot open"), s.err
	}
	return []byte(s.out[args[len(args)-1]]), nil, nil
}

func TestTesseract_Recognize(t *testing.T) {
	r := &stubRunner{out: map[string]string{
		"/td": "FATURA\t\tNo: 12\r\n\n\n\n-----\nTOPLAM   25,00 TL  \n",
	}}
	tess := NewTesseract(Config{TesseractLang: "eng", TessdataDir: "/td"}, r, nil)

	got := tess.Recognize(context.Background(), []byte("png-bytes"))
	assert.Equal(t, "FATURA No: 12\n\nTOPLAM 25,00 TL", got)

	require.Len(t, r.calls, 1)
	assert.Equal(t, "tesseract", r.calls[0][0])
	assert.Equal(t, []string{"stdout", "-l", "eng", "--tessdata-dir", "/td"}, r.calls[0][2:])
	assert.Equal(t, "png-bytes", string(r.seen))
}

func TestTesseract_RecognizeIsBestEffort(t *testing.T) {
	r := &stubRunner{err: errors.New("exit status 1")}
	tess := NewTesseract(Config{}, r, nil)

	assert.Equal(t, "", tess.Recognize(context.Background(), []byte("x")))
	assert.Equal(t, "", tess.Recognize(context.Background(), nil))
	assert.Len(t, r.calls, 1)
}

func TestTesseract_TSVConfidencePass(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tFATURA\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t70\tTOPLAM\n" +
		"4\t1\t1\t1\t1\t0\t0\t0\t10\t10\t-1\t\n"
	r := &stubRunner{out: map[string]string{"tur+eng": "FATURA", "tsv": tsv}}
	tess := NewTesseract(Config{EnableTSVConfidence: true}, r, nil)

	assert.Equal(t, "FATURA", tess.Recognize(context.Background(), []byte("x")))
	assert.Len(t, r.calls, 2)
	assert.InDelta(t, 0.8, meanTSVConfidence(tsv), 1e-6)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a\r\nb", "a\nb"},
		{"page1\fpage2", "page1\npage2"},
		{"Tarih: 05.01.2024\t\tTutar: 1.250,00", "Tarih: 05.01.2024 Tutar: 1.250,00"},
		{"x\n\n\n\n\ny", "x\n\ny"},
		{"  top  \n=====\nbottom", "top\n\nbottom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestHeuristicConfidence(t *testing.T) {
	assert.Equal(t, float32(0), heuristicConfidence("   "))
	low := heuristicConfidence("hello")
	high := heuristicConfidence("Fatura tarihi 05.01.2024 toplam 1.250,00 TL")
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, float32(1))
}
