package domain

// RequestMeta são os metadados da requisição usados na identificação.
//
// Propositalmente sem net/http: o adapter HTTP preenche a partir do *http.Request.
type RequestMeta struct {
	// Addr é o endereço de rede do cliente (sem porta). Nunca é logado nem persistido.
	Addr string
	// Authorization é o header Authorization bruto (ex: "Bearer xyz").
	Authorization string
	APIKey        string
	// UpstreamTier é o tier resolvido por um estágio de autenticação anterior, se houver.
	UpstreamTier Tier
}

// Identity é o resultado de ClientIdentifier.Identify.
type Identity struct {
	Key  Key
	Tier Tier
	// AllowListed indica que o endereço está na allow-list: nunca é rejeitado.
	AllowListed bool
}
