// Package ingestion implements the SIPSA ingestion control plane: window
// policy, run lifecycle, per-method handlers and the audit trail.
package ingestion

import "strings"

// Upstream SOAP operation names. Each name doubles as the empty request
// element in the SOAP body and as the handler registry key.
const (
	MethodCiudad  = "promediosSipsaCiudad"
	MethodParcial = "promediosSipsaParcial"
	MethodSemana  = "promediosSipsaSemanaMadr"
	MethodMes     = "promediosSipsaMesMadr"
	MethodAbas    = "promedioAbasSipsaMesMadr"
)

// DailyMethods lists the methods pulled once per day, in the order the
// scheduler fires them.
func DailyMethods() []string {
	return []string{MethodCiudad, MethodParcial, MethodSemana}
}

// IsMonthlyMethod reports whether the method runs on the monthly window.
// Monthly operations carry "MesMadr" or "Abas" in their upstream names.
func IsMonthlyMethod(method string) bool {
	name := strings.ToLower(method)

	return strings.Contains(name, "mesmadr") || strings.Contains(name, "abas")
}
