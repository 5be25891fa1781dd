package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: `{"Masraf":{}}`, want: `{"Masraf":{}}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose around", in: `Sonuç: {"a":{"b":2}} umarım yardımcı olur`, want: `{"a":{"b":2}}`},
		{name: "no object", in: "üzgünüm", wantErr: true},
		{name: "broken object", in: `{"a":`, wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrNoJSON))
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 12.5, want: 12.5, ok: true},
		{in: 3, want: 3, ok: true},
		{in: "12,5", want: 12.5, ok: true},
		{in: "12.5", want: 12.5, ok: true},
		{in: "1.234,56 TL", want: 1234.56, ok: true},
		{in: "1,234.56", want: 1234.56, ok: true},
		{in: "1,250", want: 1250, ok: true},
		{in: "1.234.567", want: 1234567, ok: true},
		{in: "%18", want: 18, ok: true},
		{in: "12,50 EUR", want: 12.5, ok: true},
		{in: "-4,5", want: -4.5, ok: true},
		{in: "", ok: false},
		{in: "null", ok: false},
		{in: "yok", ok: false},
		{in: nil, ok: false},
		{in: true, ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, "input %v", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "input %v", tt.in)
		}
	}
}

func TestValidateDraft(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "header only", in: `{"Masraf":{"Kod":null,"BaslangicTarihi":"2024-03-01"}}`},
		{name: "string numbers", in: `{"MasrafAlt":[{"Miktar":"2","BirimMasrafTutari":"10,5"}]}`},
		{name: "empty date", in: `{"Masraf":{"BaslangicTarihi":""}}`},
		{name: "null sections", in: `{"Masraf":null,"MasrafAlt":null,"Dosya":null}`},
		{name: "no known section", in: `{"foo":1}`, wantErr: true},
		{name: "bad date", in: `{"Masraf":{"BaslangicTarihi":"01/03/2024"}}`, wantErr: true},
		{name: "line items not array", in: `{"MasrafAlt":"x"}`, wantErr: true},
		{name: "not json", in: `nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDraft([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSanitizeDraft(t *testing.T) {
	t.Run("repairs fields and revalidates", func(t *testing.T) {
		raw := []byte(`{"Masraf":{"Kod":42,"BaslangicTarihi":"01/03/2024"},"MasrafAlt":[{"Miktar":true,"ToplamMasrafTutari":"20"},"junk"],"Dosya":7}`)
		require.Error(t, ValidateDraft(raw))

		cleaned, dropped, err := SanitizeDraft(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Dosya(type)",
			"Masraf.BaslangicTarihi(format)",
			"Masraf.Kod(coerced)",
			"MasrafAlt[0].Miktar(type)",
			"MasrafAlt[1](type)",
		}, dropped)
		assert.NoError(t, ValidateDraft(cleaned))
		assert.JSONEq(t, `{"Masraf":{"Kod":"42","BaslangicTarihi":null},"MasrafAlt":[{"ToplamMasrafTutari":"20"}]}`, string(cleaned))
	})

	t.Run("nothing usable left", func(t *testing.T) {
		cleaned, dropped, err := SanitizeDraft([]byte(`{"Masraf":"oops","MasrafAlt":{"x":1},"Dosya":7}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"Dosya(type)", "Masraf(type)", "MasrafAlt(type)"}, dropped)
		assert.Error(t, ValidateDraft(cleaned))
	})

	t.Run("not an object", func(t *testing.T) {
		_, _, err := SanitizeDraft([]byte(`[1,2]`))
		assert.Error(t, err)
	})
}

func TestPrompts(t *testing.T) {
	p := TextUserPrompt("taksi", []string{"sayfa bir", "sayfa iki"}, "", "merhaba")
	assert.True(t, strings.HasPrefix(p, "Açıklama:\ntaksi"))
	assert.Contains(t, p, "E-posta:\nmerhaba")
	assert.Contains(t, p, "# Sayfa 2\nsayfa iki")
	assert.NotContains(t, p, "# Tablolar")
	assert.True(t, strings.HasSuffix(p, textInstruction))
	assert.Less(t, strings.Index(p, "E-posta"), strings.Index(p, "# Sayfa 1"))

	assert.Equal(t, visionInstruction, VisionUserPrompt(""))
	assert.Equal(t, "otel\n"+visionInstruction, VisionUserPrompt("otel"))
	assert.Contains(t, SchemaPrompt, `"ToplamMasrafTutari"`)
}
