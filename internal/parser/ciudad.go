package parser

import (
	"io"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// Ciudad is the pull parser for promediosSipsaCiudad responses.
type Ciudad struct {
	reader *Reader
}

var _ ingestion.CiudadIterator = (*Ciudad)(nil)

// NewCiudad wraps a response body.
func NewCiudad(body io.Reader, maxChildren int) *Ciudad {
	return &Ciudad{reader: NewReader(body, maxChildren)}
}

// Next returns the next city price record, or io.EOF after the last one.
func (p *Ciudad) Next() (*ingestion.CiudadRecord, error) {
	record := &ingestion.CiudadRecord{}

	ok, err := p.reader.NextReturn(func(name, text string) {
		switch name {
		case "regid":
			record.RegID = parseInt64(text)
		case "ciudad":
			record.Ciudad = strPtr(text)
		case "codproducto":
			record.CodProducto = parseInt64(text)
		case "producto":
			record.Producto = strPtr(text)
		case "fechacaptura":
			record.FechaCaptura = parseEpochMillis(text)
		case "fechacreacion":
			record.FechaCreacion = parseEpochMillis(text)
		case "preciopromedio":
			record.PrecioPromedio = parseFloat64(text)
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
