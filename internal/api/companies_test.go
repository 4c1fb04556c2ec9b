package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/scheduler"
	"github.com/LeventeLantos/message-dispatch/internal/service"
	"github.com/LeventeLantos/message-dispatch/internal/store"
	"github.com/LeventeLantos/message-dispatch/internal/store/storetest"
)

func newCompanyServer(t *testing.T) http.Handler {
	t.Helper()

	reg, err := record.NewRegistry(model.DefaultCollections, model.Descriptors()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	companies, err := store.New[model.Company](storetest.New(), reg, model.CompanyCollection)
	if err != nil {
		t.Fatalf("companies: %v", err)
	}
	reports, err := store.New[model.Report](storetest.New(), reg, model.ReportCollection)
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	gateways, err := store.New[model.GatewayConfig](storetest.New(), reg, model.GatewayConfigCollection)
	if err != nil {
		t.Fatalf("gateways: %v", err)
	}

	s, err := scheduler.New(time.Hour, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	h := NewHandler(s, &fakeRepo{}, &fakeDispatcher{}, nil, nil)
	ch := NewCompanyHandler(
		service.NewCompanyService(companies, nil),
		service.NewReportService(reports),
		service.NewGatewayService(gateways),
		nil,
	)
	return Router(h, ch)
}

func TestCompanyLifecycle(t *testing.T) {
	mux := newCompanyServer(t)

	rr := serve(mux, http.MethodPost, "/v1/companies", `{"nome":"Escola Alfa","cnpj":"12.345.678/0001-90","valor_mensalidade":99.5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%q", rr.Code, rr.Body.String())
	}
	created := decodeJSON(t, rr)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected id in %v", created)
	}
	if created["status"] != string(model.CompanyActive) {
		t.Fatalf("expected status ativa, got %v", created["status"])
	}

	rr = serve(mux, http.MethodPost, "/v1/companies", `{"nome":"Outra","cnpj":"12.345.678/0001-90"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cnpj, got %d", rr.Code)
	}

	rr = serve(mux, http.MethodPut, "/v1/companies/"+id+"/status", `{"status":"suspensa"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	rr = serve(mux, http.MethodGet, "/v1/companies/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeJSON(t, rr)["status"]; got != string(model.CompanySuspended) {
		t.Fatalf("expected suspensa, got %v", got)
	}

	rr = serve(mux, http.MethodGet, "/v1/companies?status=suspensa", "")
	items, _ := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 company, got %d", len(items))
	}
}

func TestCompanyErrors(t *testing.T) {
	mux := newCompanyServer(t)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPost, "/v1/companies", "{", http.StatusBadRequest},
		{"missing name", http.MethodPost, "/v1/companies", `{"cnpj":"1"}`, http.StatusBadRequest},
		{"unknown company", http.MethodGet, "/v1/companies/missing", "", http.StatusNotFound},
		{"unknown status value", http.MethodPut, "/v1/companies/missing/status", `{"status":"sumida"}`, http.StatusBadRequest},
		{"bad month", http.MethodPut, "/v1/companies/c1/reports/2024-13", `{"total_enviadas":1}`, http.StatusBadRequest},
		{"no gateway", http.MethodGet, "/v1/companies/c1/gateway", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := serve(mux, tc.method, tc.target, tc.body)
		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d body=%q", tc.name, tc.want, rr.Code, rr.Body.String())
		}
	}
}

func TestReportsAndGateway(t *testing.T) {
	mux := newCompanyServer(t)

	rr := serve(mux, http.MethodPut, "/v1/companies/c1/reports/2024-05",
		`{"total_enviadas":10,"total_sucesso":8,"total_erro":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	rr = serve(mux, http.MethodGet, "/v1/companies/c1/reports/2024-05", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeJSON(t, rr)["total_sucesso"]; got != float64(8) {
		t.Fatalf("expected total_sucesso=8, got %v", got)
	}

	rr = serve(mux, http.MethodGet, "/v1/companies/c1/reports", "")
	items, _ := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 report, got %d", len(items))
	}

	rr = serve(mux, http.MethodPut, "/v1/companies/c1/gateway",
		`{"tipo":"evolution","token":"secret","remetente_padrao":"5511"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	rr = serve(mux, http.MethodGet, "/v1/companies/c1/gateway", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	if body["token"] != "" {
		t.Fatalf("expected token to be hidden, got %v", body["token"])
	}
	if body["remetente_padrao"] != "5511" {
		t.Fatalf("unexpected gateway %v", body)
	}
}
