package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Records carry every field as a pointer so that absent or unparseable
// upstream values stay nil instead of defaulting to zero. Timestamps arrive
// as epoch milliseconds and are only materialized as absolute instants when
// rows are flushed to the store.

type (
	// CiudadRecord is one city-level average price observation.
	CiudadRecord struct {
		RegID          *int64
		Ciudad         *string
		CodProducto    *int64
		Producto       *string
		FechaCaptura   *int64
		FechaCreacion  *int64
		PrecioPromedio *float64
		Enviado        *bool
	}

	// ParcialRecord is one partial market survey observation. EnmaFechaText
	// preserves the raw feed text because the dedup hash is computed over the
	// original string, not the parsed instant.
	ParcialRecord struct {
		MuniID        *string
		MuniNombre    *string
		DeptNombre    *string
		FuenID        *int64
		FuenNombre    *string
		FutiID        *int64
		IDArtiSemana  *int64
		ArtiNombre    *string
		GrupNombre    *string
		EnmaFecha     *int64
		EnmaFechaText string
		PromedioKg    *float64
		MaximoKg      *float64
		MinimoKg      *float64
	}

	// SemanaRecord is one weekly wholesale market observation.
	SemanaRecord struct {
		TmpMayoSemID  *int64
		ArtiID        *int64
		ArtiNombre    *string
		FuenID        *int64
		FuenNombre    *string
		FutiID        *int64
		FechaIni      *int64
		MinimoKg      *float64
		MaximoKg      *float64
		PromedioKg    *float64
		FechaCreacion *int64
		Enviado       *bool
	}

	// MesRecord is one monthly wholesale market observation.
	MesRecord struct {
		TmpMayoMesID  *int64
		ArtiID        *int64
		ArtiNombre    *string
		FuenID        *int64
		FuenNombre    *string
		FutiID        *int64
		FechaMesIni   *int64
		MinimoKg      *float64
		MaximoKg      *float64
		PromedioKg    *float64
		FechaCreacion *int64
		Enviado       *bool
	}

	// AbasRecord is one monthly supply (abastecimientos) observation.
	AbasRecord struct {
		TmpAbasMesID  *int64
		ArtiID        *int64
		ArtiNombre    *string
		FuenID        *int64
		FuenNombre    *string
		FutiID        *int64
		FechaMes      *int64
		CantidadTon   *float64
		FechaCreacion *int64
		Enviado       *bool
	}
)

// KeyHash derives the 64-char hex dedup key for a partial market record:
// SHA-256 over muniId|fuenId|futiId|idArtiSemana|enmaFecha|artiNombre.
// ArtiNombre may be absent and contributes an empty segment; EnmaFecha uses
// the raw feed text so that re-submissions of the same upstream row collide.
func (r *ParcialRecord) KeyHash() string {
	parts := []string{
		derefStr(r.MuniID),
		derefInt(r.FuenID),
		derefInt(r.FutiID),
		derefInt(r.IDArtiSemana),
		r.EnmaFechaText,
		derefStr(r.ArtiNombre),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))

	return hex.EncodeToString(sum[:])
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func derefInt(v *int64) string {
	if v == nil {
		return ""
	}

	return strconv.FormatInt(*v, 10)
}
