package model

import "github.com/LeventeLantos/message-dispatch/internal/record"

type GatewayKind string

const (
	GatewayOfficial  GatewayKind = "oficial"
	GatewayEvolution GatewayKind = "evolution"
)

const (
	GatewayConfigType = "ConfiguracaoWhatsapp"

	GatewayKindField     = "tipo"
	GatewayToken         = "token"
	GatewayDefaultSender = "remetente_padrao"
)

var GatewayConfigDescriptor = record.Descriptor{
	Type: GatewayConfigType,
	Fields: []record.Field{
		record.Required(FieldCompanyID, record.String),
		record.EnumOf(GatewayKindField, string(GatewayOfficial), string(GatewayEvolution)),
		record.Required(GatewayToken, record.String),
		record.Required(GatewayDefaultSender, record.String),
	},
}

// GatewayConfig is a company's WhatsApp gateway settings.
type GatewayConfig struct {
	Identity
	CompanyID     string      `json:"empresa_id"`
	Kind          GatewayKind `json:"tipo"`
	Token         string      `json:"token"`
	DefaultSender string      `json:"remetente_padrao"`
}

func (g *GatewayConfig) Descriptor() record.Descriptor { return GatewayConfigDescriptor }

func (g *GatewayConfig) Values() record.Values {
	return record.Values{
		FieldCompanyID:       g.CompanyID,
		GatewayKindField:     string(g.Kind),
		GatewayToken:         g.Token,
		GatewayDefaultSender: g.DefaultSender,
	}
}

func (g *GatewayConfig) Load(v record.Values) error {
	g.CompanyID = str(v, FieldCompanyID)
	g.Kind = GatewayKind(str(v, GatewayKindField))
	g.Token = str(v, GatewayToken)
	g.DefaultSender = str(v, GatewayDefaultSender)
	return nil
}
