package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ExportRow is one data point extracted by the remote service. Field tags are
// the remote export keys; ID, DocumentID and CreatedAt are local.
type ExportRow struct {
	ID         string    `json:"-"`
	DocumentID string    `json:"-"`
	CreatedAt  time.Time `json:"-"`

	Code          Text `json:"codigo,omitempty"`
	Description   Text `json:"descricao,omitempty"`
	Value         Text `json:"valor,omitempty"`
	PreviousValue Text `json:"valorAnterior,omitempty"`
	Company       Text `json:"empresa,omitempty"`
	TaxID         Text `json:"cnpj,omitempty"`
	Page          Text `json:"pagina,omitempty"`
	Section       Text `json:"secao,omitempty"`
	Subsection    Text `json:"subsecao,omitempty"`
	Table         Text `json:"tabela,omitempty"`
	Line          Text `json:"linha,omitempty"`
	Column        Text `json:"coluna,omitempty"`
	X             Text `json:"x,omitempty"`
	Y             Text `json:"y,omitempty"`
	Width         Text `json:"largura,omitempty"`
	Height        Text `json:"altura,omitempty"`
	Period        Text `json:"periodo,omitempty"`
	ReferenceDate Text `json:"dataReferencia,omitempty"`
	Year          Text `json:"ano,omitempty"`
	Quarter       Text `json:"trimestre,omitempty"`
	Currency      Text `json:"moeda,omitempty"`
	Scale         Text `json:"escala,omitempty"`
	Unit          Text `json:"unidade,omitempty"`
	Type          Text `json:"tipo,omitempty"`
	Level         Text `json:"nivel,omitempty"`
	ParentAccount Text `json:"contaPai,omitempty"`
	Label         Text `json:"rotulo,omitempty"`
	Confidence    Text `json:"confianca,omitempty"`
	File          Text `json:"arquivo,omitempty"`
	Note          Text `json:"observacao,omitempty"`
}

// Text is a string that also accepts JSON numbers and booleans. The export
// endpoint is not consistent about quoting numeric cells.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	case data[0] == '{' || data[0] == '[',
		bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*t = Text(data)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*t = Text(n.String())
		return nil
	}
}

// String returns the plain value.
func (t Text) String() string { return string(t) }

// Float parses the value as a number, accepting a decimal comma.
func (t Text) Float() (float64, bool) {
	s := string(t)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	s = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
