package parser

import (
	"io"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// Parcial is the pull parser for promediosSipsaParcial responses.
// The enmafecha element feeds both the parsed instant and the raw text; the
// dedup hash is computed over the raw text downstream.
type Parcial struct {
	reader *Reader
}

var _ ingestion.ParcialIterator = (*Parcial)(nil)

// NewParcial wraps a response body.
func NewParcial(body io.Reader, maxChildren int) *Parcial {
	return &Parcial{reader: NewReader(body, maxChildren)}
}

// Next returns the next partial market record, or io.EOF after the last one.
func (p *Parcial) Next() (*ingestion.ParcialRecord, error) {
	record := &ingestion.ParcialRecord{}

	ok, err := p.reader.NextReturn(func(name, text string) {
		switch name {
		case "muniid":
			record.MuniID = strPtr(text)
		case "muninombre":
			record.MuniNombre = strPtr(text)
		case "deptnombre":
			record.DeptNombre = strPtr(text)
		case "fuenid":
			record.FuenID = parseInt64(text)
		case "fuennombre":
			record.FuenNombre = strPtr(text)
		case "futiid":
			record.FutiID = parseInt64(text)
		case "idartisemana":
			record.IDArtiSemana = parseInt64(text)
		case "artinombre":
			record.ArtiNombre = strPtr(text)
		case "grupnombre":
			record.GrupNombre = strPtr(text)
		case "enmafecha":
			record.EnmaFecha = parseEpochMillis(text)
			record.EnmaFechaText = text
		case "promediokg":
			record.PromedioKg = parseFloat64(text)
		case "maximokg":
			record.MaximoKg = parseFloat64(text)
		case "minimokg":
			record.MinimoKg = parseFloat64(text)
		}
	})
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, io.EOF
	}

	return record, nil
}
