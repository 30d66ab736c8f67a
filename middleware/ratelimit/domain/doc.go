// Package domain define contratos e tipos de domínio para admissão por permits.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Limiter é a capacidade (AcquireN, TryAcquireN, TryReserveN, Rate, SetRate);
// as variantes concretas ficam em infra.
package domain
