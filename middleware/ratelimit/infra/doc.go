// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryWindowStore: janela deslizante local, mapa + mutex, limpeza amortizada
//   - RedisWindowStore: janela deslizante compartilhada em sorted set (go-redis)
//   - ChanPool: semáforo que limita chamadas simultâneas ao Redis
//   - Memory/Redis/PrometheusStatsStore: estatísticas das decisões
package infra
