package ratelimit

import (
	"math"
	"strconv"
	"time"
)

// Formatação de números para headers, sem fmt e sem notação científica.

func formatInt(v int) string { return strconv.Itoa(v) }

// retryAfterSeconds arredonda para cima: Retry-After só aceita segundos inteiros.
func retryAfterSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func formatFloat(v float64) string {
	// headers não precisam de mais que microssegundos
	v = math.Round(v*1e6) / 1e6
	return strconv.FormatFloat(v, 'f', -1, 64)
}
