package model

import "github.com/LeventeLantos/message-dispatch/internal/record"

const (
	ReportType = "RelatorioMensal"

	ReportMonth   = "mes_ano"
	ReportSent    = "total_enviadas"
	ReportSuccess = "total_sucesso"
	ReportError   = "total_erro"
)

var ReportDescriptor = record.Descriptor{
	Type: ReportType,
	Fields: []record.Field{
		record.Required(FieldCompanyID, record.String),
		record.Required(ReportMonth, record.String),
		record.Required(ReportSent, record.Integer),
		record.Required(ReportSuccess, record.Integer),
		record.Required(ReportError, record.Integer),
	},
}

// Report holds a company's delivery totals for one month ("2006-01").
type Report struct {
	Identity
	CompanyID string `json:"empresa_id"`
	Month     string `json:"mes_ano"`
	Sent      int    `json:"total_enviadas"`
	Succeeded int    `json:"total_sucesso"`
	Failed    int    `json:"total_erro"`
}

func (r *Report) Descriptor() record.Descriptor { return ReportDescriptor }

func (r *Report) Values() record.Values {
	return record.Values{
		FieldCompanyID: r.CompanyID,
		ReportMonth:    r.Month,
		ReportSent:     int64(r.Sent),
		ReportSuccess:  int64(r.Succeeded),
		ReportError:    int64(r.Failed),
	}
}

func (r *Report) Load(v record.Values) error {
	r.CompanyID = str(v, FieldCompanyID)
	r.Month = str(v, ReportMonth)
	r.Sent = integer(v, ReportSent)
	r.Succeeded = integer(v, ReportSuccess)
	r.Failed = integer(v, ReportError)
	return nil
}
