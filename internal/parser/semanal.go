package parser

import (
	"io"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// Semana is the pull parser for promediosSipsaSemanaMadr responses.
type Semana struct {
	reader *Reader
}

var _ ingestion.SemanaIterator = (*Semana)(nil)

// NewSemana wraps a response body.
func NewSemana(body io.Reader, maxChildren int) *Semana {
	return &Semana{reader: NewReader(body, maxChildren)}
}

// Next returns the next weekly wholesale record, or io.EOF after the last one.
func (p *Semana) Next() (*ingestion.SemanaRecord, error) {
	record := &ingestion.SemanaRecord{}

	ok, err := p.reader.NextReturn(func(name, text string) {
		switch name {
		case "tmpmayosemid":
			record.TmpMayoSemID = parseInt64(text)
		case "artiid":
			record.ArtiID = parseInt64(text)
		case "artinombre":
			record.ArtiNombre = strPtr(text)
		case "fuenid":
			record.FuenID = parseInt64(text)
		case "fuennombre":
			record.FuenNombre = strPtr(text)
		case "futiid":
			record.FutiID = parseInt64(text)
		case "fechaini":
			record.FechaIni = parseEpochMillis(text)
		case "minimokg":
			record.MinimoKg = parseFloat64(text)
		case "maximokg":
			record.MaximoKg = parseFloat64(text)
		case "promediokg":
			record.PromedioKg = parseFloat64(text)
		case "fechacreacion":
			record.FechaCreacion = parseEpochMillis(text)
		case "enviado":
			record.Enviado = parseBool(text)
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
