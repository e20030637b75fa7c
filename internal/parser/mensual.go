package parser

import (
	"io"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// Mes is the pull parser for promediosSipsaMesMadr responses.
type Mes struct {
	reader *Reader
}

var _ ingestion.MesIterator = (*Mes)(nil)

// NewMes wraps a response body.
func NewMes(body io.Reader, maxChildren int) *Mes {
	return &Mes{reader: NewReader(body, maxChildren)}
}

// Next returns the next monthly wholesale record, or io.EOF after the last one.
func (p *Mes) Next() (*ingestion.MesRecord, error) {
	record := &ingestion.MesRecord{}

	ok, err := p.reader.NextReturn(func(name, text string) {
		switch name {
		case "tmpmayomesid":
			record.TmpMayoMesID = parseInt64(text)
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
			record.FechaMesIni = parseEpochMillis(text)
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
