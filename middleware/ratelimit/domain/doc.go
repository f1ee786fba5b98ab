// Package domain define contratos e tipos de domínio do admission control:
// tiers, identidade do cliente, janela deslizante e decisão.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (Redis, memória).
package domain
