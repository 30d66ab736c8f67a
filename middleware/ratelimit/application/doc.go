// Package application contém os casos de uso (regras de aplicação) do rate limit.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(key, permits) retorna uma Decision (allow/deny + wait + retry-after)
// e Service.Acquire(ctx, key, permits) bloqueia até a vez do chamador.
package application
