// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - PermitClock: limiter de próximo-instante-livre com permits guardados
//   - TokenBucket: adapter de golang.org/x/time/rate
//   - Store: um limiter por chave, com TTL de ociosidade e janitor
//   - MemoryStatsStore, RedisStatsStore, PrometheusStats: estatísticas de decisão
package infra
