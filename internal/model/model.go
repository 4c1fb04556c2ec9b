// Package model holds the stored record types and the descriptor table the
// registry resolves collection declarations against.
package model

import (
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/record"
)

// FieldCompanyID is the owning company key shared by several records.
const FieldCompanyID = "empresa_id"

const (
	CompanyCollection       = "empresa"
	MessageCollection       = "mensagem"
	LogCollection           = "log"
	ReportCollection        = "relatorio_mensal"
	GatewayConfigCollection = "configuracao_whatsapp"
)

// DefaultCollections declares every collection under its usual name.
const DefaultCollections = CompanyCollection + ":" + CompanyType + "," +
	MessageCollection + ":" + MessageType + "," +
	LogCollection + ":" + LogType + "," +
	ReportCollection + ":" + ReportType + "," +
	GatewayConfigCollection + ":" + GatewayConfigType

// Identity carries a record identifier. Embedding it gives a type the ID and
// SetID halves of record.Record.
type Identity struct {
	RecordID string `json:"id,omitempty"`
}

func (i *Identity) ID() string      { return i.RecordID }
func (i *Identity) SetID(id string) { i.RecordID = id }

// Descriptors is the compile-time table of every record type.
func Descriptors() []record.Descriptor {
	return []record.Descriptor{
		CompanyDescriptor,
		MessageDescriptor,
		LogDescriptor,
		ReportDescriptor,
		GatewayConfigDescriptor,
	}
}

// Now returns the current time in the precision documents store.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func str(v record.Values, key string) string {
	s, _ := v[key].(string)
	return s
}

func integer(v record.Values, key string) int {
	n, _ := v[key].(int64)
	return int(n)
}

func optionalTime(v record.Values, key string) *time.Time {
	t, ok := v[key].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func putString(v record.Values, key, s string) {
	if s != "" {
		v[key] = s
	}
}

func putTime(v record.Values, key string, t *time.Time) {
	if t != nil {
		v[key] = *t
	}
}
