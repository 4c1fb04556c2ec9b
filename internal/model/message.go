package model

import (
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/record"
)

type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSuccess DeliveryStatus = "success"
	StatusError   DeliveryStatus = "error"
)

const (
	MessageType = "Mensagem"

	MsgDestination = "numero_destino"
	MsgTemplate    = "template"
	MsgPayload     = "payload"
	MsgStatus      = "status_envio"
	MsgAttempts    = "tentativas"
	MsgSentAt      = "data_envio"
	MsgLastError   = "ultimo_erro"
	MsgRemoteID    = "id_remoto"
	MsgCreatedAt   = "criado_em"
)

var MessageDescriptor = record.Descriptor{
	Type: MessageType,
	Fields: []record.Field{
		record.Optional(FieldCompanyID, record.String),
		record.Required(MsgDestination, record.String),
		record.Required(MsgTemplate, record.String),
		record.MapOf(MsgPayload, record.Required("", record.String)),
		record.EnumOf(MsgStatus, string(StatusPending), string(StatusSuccess), string(StatusError)),
		record.Required(MsgAttempts, record.Integer),
		record.Optional(MsgSentAt, record.Time),
		record.Optional(MsgLastError, record.String),
		record.Optional(MsgRemoteID, record.String),
		record.Required(MsgCreatedAt, record.Time),
	},
}

// Message is one outbound message and its delivery state.
type Message struct {
	Identity
	CompanyID   string            `json:"empresa_id,omitempty"`
	Destination string            `json:"numero_destino"`
	Template    string            `json:"template"`
	Payload     map[string]string `json:"payload"`
	Status      DeliveryStatus    `json:"status_envio"`
	Attempts    int               `json:"tentativas"`
	SentAt      *time.Time        `json:"data_envio,omitempty"`
	LastError   string            `json:"ultimo_erro,omitempty"`
	RemoteID    string            `json:"id_remoto,omitempty"`
	CreatedAt   time.Time         `json:"criado_em"`
}

// NewMessage returns a pending message with no attempts.
func NewMessage(companyID, destination, template string, payload map[string]string) *Message {
	if payload == nil {
		payload = map[string]string{}
	}
	return &Message{
		CompanyID:   companyID,
		Destination: destination,
		Template:    template,
		Payload:     payload,
		Status:      StatusPending,
		CreatedAt:   Now(),
	}
}

func (m *Message) Descriptor() record.Descriptor { return MessageDescriptor }

func (m *Message) Values() record.Values {
	v := record.Values{
		MsgDestination: m.Destination,
		MsgTemplate:    m.Template,
		MsgPayload:     m.Payload,
		MsgStatus:      string(m.Status),
		MsgAttempts:    int64(m.Attempts),
		MsgCreatedAt:   m.CreatedAt,
	}
	if m.Payload == nil {
		v[MsgPayload] = map[string]string{}
	}
	putString(v, FieldCompanyID, m.CompanyID)
	putTime(v, MsgSentAt, m.SentAt)
	putString(v, MsgLastError, m.LastError)
	putString(v, MsgRemoteID, m.RemoteID)
	return v
}

func (m *Message) Load(v record.Values) error {
	m.CompanyID = str(v, FieldCompanyID)
	m.Destination = str(v, MsgDestination)
	m.Template = str(v, MsgTemplate)
	m.Payload, _ = v[MsgPayload].(map[string]string)
	m.Status = DeliveryStatus(str(v, MsgStatus))
	m.Attempts = integer(v, MsgAttempts)
	m.SentAt = optionalTime(v, MsgSentAt)
	m.LastError = str(v, MsgLastError)
	m.RemoteID = str(v, MsgRemoteID)
	m.CreatedAt, _ = v[MsgCreatedAt].(time.Time)
	return nil
}
