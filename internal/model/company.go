package model

import (
	"fmt"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/record"
)

type CompanyStatus string

const (
	CompanyActive    CompanyStatus = "ativa"
	CompanyInactive  CompanyStatus = "inativa"
	CompanySuspended CompanyStatus = "suspensa"
)

const (
	CompanyType = "Empresa"

	CompanyName          = "nome"
	CompanyCNPJ          = "cnpj"
	CompanyStatusField   = "status"
	CompanyAuthHash      = "hash_autenticacao"
	CompanyMonthlyFee    = "valor_mensalidade"
	CompanyContractStart = "data_inicio_contrato"
	CompanyContractEnd   = "data_fim_contrato"
	CompanyBillingCycle  = "ciclo_pagamento"
	CompanyNotes         = "observacoes"
	CompanyContacts      = "contatos"

	ContactName  = "nome"
	ContactPhone = "telefone"
	ContactEmail = "email"

	DefaultBillingCycle = "mensal"
)

var CompanyDescriptor = record.Descriptor{
	Type: CompanyType,
	Fields: []record.Field{
		record.Required(CompanyName, record.String),
		record.Optional(CompanyCNPJ, record.String),
		record.EnumOf(CompanyStatusField, string(CompanyActive), string(CompanyInactive), string(CompanySuspended)),
		record.Required(CompanyAuthHash, record.String),
		record.Required(CompanyMonthlyFee, record.Number),
		record.Required(CompanyContractStart, record.Time),
		record.Optional(CompanyContractEnd, record.Time),
		record.Optional(CompanyBillingCycle, record.String).WithDefault(DefaultBillingCycle),
		record.Optional(CompanyNotes, record.String),
		record.ListOf(CompanyContacts, record.Nested("",
			record.Required(ContactName, record.String),
			record.Required(ContactPhone, record.String),
			record.Optional(ContactEmail, record.String),
		)).AsOptional(),
	},
}

type Contact struct {
	Name  string `json:"nome"`
	Phone string `json:"telefone"`
	Email string `json:"email,omitempty"`
}

// Company is a customer that owns messages, reports and gateway settings.
type Company struct {
	Identity
	Name          string        `json:"nome"`
	CNPJ          string        `json:"cnpj,omitempty"`
	Status        CompanyStatus `json:"status"`
	AuthHash      string        `json:"hash_autenticacao"`
	MonthlyFee    float64       `json:"valor_mensalidade"`
	ContractStart time.Time     `json:"data_inicio_contrato"`
	ContractEnd   *time.Time    `json:"data_fim_contrato,omitempty"`
	BillingCycle  string        `json:"ciclo_pagamento,omitempty"`
	Notes         string        `json:"observacoes,omitempty"`
	Contacts      []Contact     `json:"contatos,omitempty"`
}

func (c *Company) Descriptor() record.Descriptor { return CompanyDescriptor }

func (c *Company) Values() record.Values {
	v := record.Values{
		CompanyName:          c.Name,
		CompanyStatusField:   string(c.Status),
		CompanyAuthHash:      c.AuthHash,
		CompanyMonthlyFee:    c.MonthlyFee,
		CompanyContractStart: c.ContractStart,
	}
	putString(v, CompanyCNPJ, c.CNPJ)
	putTime(v, CompanyContractEnd, c.ContractEnd)
	putString(v, CompanyBillingCycle, c.BillingCycle)
	putString(v, CompanyNotes, c.Notes)

	if c.Contacts != nil {
		contacts := make([]any, 0, len(c.Contacts))
		for _, ct := range c.Contacts {
			m := map[string]any{ContactName: ct.Name, ContactPhone: ct.Phone}
			if ct.Email != "" {
				m[ContactEmail] = ct.Email
			}
			contacts = append(contacts, m)
		}
		v[CompanyContacts] = contacts
	}
	return v
}

func (c *Company) Load(v record.Values) error {
	c.Name = str(v, CompanyName)
	c.CNPJ = str(v, CompanyCNPJ)
	c.Status = CompanyStatus(str(v, CompanyStatusField))
	c.AuthHash = str(v, CompanyAuthHash)
	c.MonthlyFee, _ = v[CompanyMonthlyFee].(float64)
	c.ContractStart, _ = v[CompanyContractStart].(time.Time)
	c.ContractEnd = optionalTime(v, CompanyContractEnd)
	c.BillingCycle = str(v, CompanyBillingCycle)
	c.Notes = str(v, CompanyNotes)

	c.Contacts = nil
	raw, ok := v[CompanyContacts].([]any)
	if !ok {
		return nil
	}
	c.Contacts = make([]Contact, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("contact %d: unexpected %T", i, item)
		}
		c.Contacts = append(c.Contacts, Contact{
			Name:  str(m, ContactName),
			Phone: str(m, ContactPhone),
			Email: str(m, ContactEmail),
		})
	}
	return nil
}
