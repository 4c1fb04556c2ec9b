package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/service"
)

// CompanyHandler serves companies with their reports and gateway settings.
type CompanyHandler struct {
	companies *service.CompanyService
	reports   *service.ReportService
	gateways  *service.GatewayService
	logger    *zap.Logger
}

func NewCompanyHandler(c *service.CompanyService, r *service.ReportService, g *service.GatewayService, logger *zap.Logger) *CompanyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompanyHandler{companies: c, reports: r, gateways: g, logger: logger}
}

func (h *CompanyHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/companies", h.CreateCompany)
	mux.HandleFunc("GET /v1/companies", h.ListCompanies)
	mux.HandleFunc("GET /v1/companies/{id}", h.GetCompany)
	mux.HandleFunc("PUT /v1/companies/{id}/status", h.SetCompanyStatus)

	mux.HandleFunc("GET /v1/companies/{id}/reports", h.ListReports)
	mux.HandleFunc("GET /v1/companies/{id}/reports/{month}", h.GetReport)
	mux.HandleFunc("PUT /v1/companies/{id}/reports/{month}", h.SaveReport)

	mux.HandleFunc("GET /v1/companies/{id}/gateway", h.GetGateway)
	mux.HandleFunc("PUT /v1/companies/{id}/gateway", h.SaveGateway)
}

func (h *CompanyHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var c model.Company
	if !decode(w, r, &c) {
		return
	}
	out, err := h.companies.Create(r.Context(), &c)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *CompanyHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.companies.List(r.Context(), model.CompanyStatus(q.Get("status")),
		parseInt(q.Get("limit"), 50), parseInt(q.Get("offset"), 0))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []*model.Company{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CompanyHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.companies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CompanyHandler) SetCompanyStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.CompanyStatus `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	id := r.PathValue("id")
	if err := h.companies.SetStatus(r.Context(), id, body.Status); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": body.Status})
}

func (h *CompanyHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.reports.ListByCompany(r.Context(), r.PathValue("id"),
		parseInt(q.Get("limit"), 50), parseInt(q.Get("offset"), 0))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []*model.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CompanyHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Get(r.Context(), r.PathValue("id"), r.PathValue("month"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *CompanyHandler) SaveReport(w http.ResponseWriter, r *http.Request) {
	var rep model.Report
	if !decode(w, r, &rep) {
		return
	}
	rep.CompanyID = r.PathValue("id")
	rep.Month = r.PathValue("month")
	if err := h.reports.Save(r.Context(), &rep); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *CompanyHandler) GetGateway(w http.ResponseWriter, r *http.Request) {
	g, err := h.gateways.ForCompany(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	g.Token = ""
	writeJSON(w, http.StatusOK, g)
}

func (h *CompanyHandler) SaveGateway(w http.ResponseWriter, r *http.Request) {
	var g model.GatewayConfig
	if !decode(w, r, &g) {
		return
	}
	g.CompanyID = r.PathValue("id")
	if err := h.gateways.Save(r.Context(), &g); err != nil {
		writeError(w, h.logger, err)
		return
	}
	g.Token = ""
	writeJSON(w, http.StatusOK, g)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
