// Package ratelimit fornece adapters HTTP (net/http) para admissão por permits.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny/wait, acquire bloqueante) sem net/http
//   - infra: implementações concretas (PermitClock, x/time/rate, stores de estatística)
//   - ratelimit (este pacote): middleware HTTP + extração de chave + admin do rate
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (IP/header/XFF)
//  2. Chama a camada application para reservar os permits (sem bloquear)
//  3. Se a espera passar de MaxWait, responde 429 com Retry-After
//  4. Se couber, segura a requisição pela espera e chama o próximo handler
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_RPS, RATE_BURST, RATE_STRATEGY e RATE_MAX_WAIT.
package ratelimit
