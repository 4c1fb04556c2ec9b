package template

// BillingTemplate is the name of the built-in billing reminder.
const BillingTemplate = "cobranca"

const billingText = "Olá {nome_resp_financeiro},\n\n" +
	"Segue a cobrança referente ao aluno {nome_aluno}, série {serie}.\n" +
	"Mês de referência: {mes_ano_cobranca}.\n" +
	"Número do boleto: {numero_boleto}.\n\n" +
	"Você pode acessar o boleto pelo link: {boleto_link}\n\n" +
	"Qualquer dúvida, estamos à disposição.\n\n" +
	"Atenciosamente,\nEquipe Financeira."

// Catalog holds named templates. A message's template field is either a
// catalog name or literal text.
type Catalog struct {
	templates map[string]Template
}

func NewCatalog(ts ...Template) *Catalog {
	c := &Catalog{templates: make(map[string]Template, len(ts))}
	for _, t := range ts {
		c.templates[t.Name] = t
	}
	return c
}

func DefaultCatalog() *Catalog {
	return NewCatalog(Parse(BillingTemplate, billingText))
}

// Resolve returns the named template, or ref parsed as literal text.
func (c *Catalog) Resolve(ref string) Template {
	if t, ok := c.templates[ref]; ok {
		return t
	}
	return Parse(ref, ref)
}

func (c *Catalog) Render(ref string, payload map[string]string) (string, error) {
	return c.Resolve(ref).Bind(payload)
}
