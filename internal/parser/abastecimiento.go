package parser

import (
	"io"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// Abas is the pull parser for promedioAbasSipsaMesMadr responses.
// The feed names the month element fechamesini; it maps to the record's
// FechaMes field.
type Abas struct {
	reader *Reader
}

var _ ingestion.AbasIterator = (*Abas)(nil)

// NewAbas wraps a response body.
func NewAbas(body io.Reader, maxChildren int) *Abas {
	return &Abas{reader: NewReader(body, maxChildren)}
}

// Next returns the next monthly supply record, or io.EOF after the last one.
func (p *Abas) Next() (*ingestion.AbasRecord, error) {
	record := &ingestion.AbasRecord{}

	ok, err := p.reader.NextReturn(func(name, text string) {
		switch name {
		case "tmpabasmesid":
			record.TmpAbasMesID = parseInt64(text)
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
		case "fechamesini":
			record.FechaMes = parseEpochMillis(text)
		case "cantidadton":
			record.CantidadTon = parseFloat64(text)
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
