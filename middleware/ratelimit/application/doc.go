// Package application contém os casos de uso do admission control.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Identifier.Identify(meta) retorna (ClientKey, Tier) e
// Service.Check(ctx, meta) retorna uma Decision (admit/reject + retry-after).
package application
