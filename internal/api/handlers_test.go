package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/cache"
	"github.com/LeventeLantos/message-dispatch/internal/dispatch"
	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/repo"
	"github.com/LeventeLantos/message-dispatch/internal/scheduler"
	"github.com/LeventeLantos/message-dispatch/internal/template"
)

type fakeRepo struct {
	// capture args
	gotStatus model.DeliveryStatus
	gotLimit  int
	gotOffset int

	// behavior
	items []*model.Message
	byID  map[string]*model.Message
	err   error
}

var _ repo.MessageRepository = (*fakeRepo)(nil)

func (f *fakeRepo) Create(ctx context.Context, msg *model.Message) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	if msg, ok := f.byID[id]; ok {
		return msg, nil
	}
	return nil, fmt.Errorf("%w: %s", repo.ErrNotFound, id)
}

func (f *fakeRepo) MarkSent(ctx context.Context, id, remoteMessageID string, sentAt time.Time) error {
	return errors.New("not implemented")
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return errors.New("not implemented")
}

func (f *fakeRepo) ListByStatus(ctx context.Context, status model.DeliveryStatus, limit, offset int) ([]*model.Message, error) {
	f.gotStatus = status
	f.gotLimit = limit
	f.gotOffset = offset
	return f.items, f.err
}

func (f *fakeRepo) ClaimFailed(ctx context.Context, maxAttempts, limit int) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRepo) Requeue(ctx context.Context, id string) (bool, error) {
	return false, errors.New("not implemented")
}

type fakeDispatcher struct {
	got        dispatch.Request
	enqueueErr error
	requeueErr error
	requeued   []string
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, req dispatch.Request) (*model.Message, error) {
	f.got = req
	msg := model.NewMessage(req.CompanyID, req.Destination, req.Template, req.Payload)
	msg.SetID("m1")
	if f.enqueueErr != nil && !errors.Is(f.enqueueErr, dispatch.ErrPublish) {
		return nil, f.enqueueErr
	}
	return msg, f.enqueueErr
}

func (f *fakeDispatcher) Requeue(ctx context.Context, id string) error {
	f.requeued = append(f.requeued, id)
	return f.requeueErr
}

type fakeReceipts map[string]cache.Receipt

func (f fakeReceipts) StoreSent(ctx context.Context, id, remoteID string, sentAt time.Time) error {
	f[id] = cache.Receipt{RemoteMessageID: remoteID, SentAt: sentAt}
	return nil
}

func (f fakeReceipts) LookupSent(ctx context.Context, id string) (cache.Receipt, error) {
	r, ok := f[id]
	if !ok {
		return cache.Receipt{}, cache.ErrMiss
	}
	return r, nil
}

type deps struct {
	repo     *fakeRepo
	dispatch *fakeDispatcher
	receipts cache.MessageCache
}

func newTestServer(t *testing.T, d deps) (*scheduler.Scheduler, http.Handler) {
	t.Helper()

	if d.repo == nil {
		d.repo = &fakeRepo{}
	}
	if d.dispatch == nil {
		d.dispatch = &fakeDispatcher{}
	}

	// Long interval so only the immediate tick happens (noop anyway).
	s, err := scheduler.New(time.Hour, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	h := NewHandler(s, d.repo, d.dispatch, d.receipts, nil)
	return s, Router(h)
}

func serve(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func TestHealth(t *testing.T) {
	s, mux := newTestServer(t, deps{})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	s, mux := newTestServer(t, deps{})
	defer s.Stop()

	steps := []struct {
		method, path string
		running      bool
	}{
		{http.MethodGet, "/v1/scheduler/status", false},
		{http.MethodPost, "/v1/scheduler/start", true},
		{http.MethodPost, "/v1/scheduler/stop", false},
	}
	for _, st := range steps {
		rr := serve(mux, st.method, st.path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d body=%q", st.path, rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running != st.running {
			t.Fatalf("%s: expected running=%v, got %v", st.path, st.running, body)
		}
	}
}

func TestEnqueueMessage(t *testing.T) {
	fd := &fakeDispatcher{}
	s, mux := newTestServer(t, deps{dispatch: fd})
	defer s.Stop()

	rr := serve(mux, http.MethodPost, "/v1/messages",
		`{"empresa_id":"c1","numero_destino":"5511999999999","template":"cobranca","payload":{"nome_aluno":"Bia"}}`)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["id"] != "m1" || body["queued"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if fd.got.Destination != "5511999999999" || fd.got.Payload["nome_aluno"] != "Bia" || fd.got.CompanyID != "c1" {
		t.Fatalf("request not passed through: %+v", fd.got)
	}
}

func TestEnqueueMessage_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid json", "{", nil, http.StatusBadRequest},
		{"binding error", `{"template":"x"}`, &template.BindingError{Template: "x", Missing: []string{"nome"}}, http.StatusBadRequest},
		{"too long", `{"template":"x"}`, dispatch.ErrContentTooLong, http.StatusBadRequest},
		{"publish failed", `{"template":"x"}`, fmt.Errorf("%w: broker down", dispatch.ErrPublish), http.StatusServiceUnavailable},
		{"store down", `{"template":"x"}`, errors.New("mongo down"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mux := newTestServer(t, deps{dispatch: &fakeDispatcher{enqueueErr: tc.err}})
			defer s.Stop()

			rr := serve(mux, http.MethodPost, "/v1/messages", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%q", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestEnqueueMessage_PublishFailureReportsStoredID(t *testing.T) {
	fd := &fakeDispatcher{enqueueErr: fmt.Errorf("%w: broker down", dispatch.ErrPublish)}
	s, mux := newTestServer(t, deps{dispatch: fd})
	defer s.Stop()

	rr := serve(mux, http.MethodPost, "/v1/messages", `{"template":"hi"}`)
	body := decodeJSON(t, rr)
	if body["id"] != "m1" || body["queued"] != false {
		t.Fatalf("expected stored id with queued=false, got %v", body)
	}
}

func TestGetMessage(t *testing.T) {
	msg := model.NewMessage("c1", "5511", "hi", nil)
	msg.SetID("abc")
	s, mux := newTestServer(t, deps{repo: &fakeRepo{byID: map[string]*model.Message{"abc": msg}}})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/messages/abc", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["id"] != "abc" || body["status_envio"] != "pending" {
		t.Fatalf("unexpected body %v", body)
	}

	rr = serve(mux, http.MethodGet, "/v1/messages/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRequeueMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusAccepted},
		{"delivered", dispatch.ErrAlreadyDelivered, http.StatusConflict},
		{"pending", dispatch.ErrNotRetryable, http.StatusConflict},
		{"missing", repo.ErrNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fd := &fakeDispatcher{requeueErr: tc.err}
			s, mux := newTestServer(t, deps{dispatch: fd})
			defer s.Stop()

			rr := serve(mux, http.MethodPost, "/v1/messages/abc/requeue", "")
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%q", tc.want, rr.Code, rr.Body.String())
			}
			if len(fd.requeued) != 1 || fd.requeued[0] != "abc" {
				t.Fatalf("expected requeue of abc, got %v", fd.requeued)
			}
		})
	}
}

func TestMessageReceipt(t *testing.T) {
	receipts := fakeReceipts{"abc": {RemoteMessageID: "R1", SentAt: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}}
	s, mux := newTestServer(t, deps{receipts: receipts})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/messages/abc/receipt", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "R1") {
		t.Fatalf("expected remote id in body, got %q", rr.Body.String())
	}

	rr = serve(mux, http.MethodGet, "/v1/messages/other/receipt", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on miss, got %d", rr.Code)
	}
}

func TestMessageReceipt_CacheDisabled(t *testing.T) {
	s, mux := newTestServer(t, deps{})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/messages/abc/receipt", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListSentMessages_DefaultsAndArgs(t *testing.T) {
	fr := &fakeRepo{
		items: []*model.Message{model.NewMessage("c1", "+361", "a", nil)},
	}

	s, mux := newTestServer(t, deps{repo: fr})
	defer s.Stop()

	// No query params => defaults (limit=50, offset=0)
	rr := serve(mux, http.MethodGet, "/v1/messages/sent", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fr.gotLimit != 50 || fr.gotOffset != 0 || fr.gotStatus != model.StatusSuccess {
		t.Fatalf("expected repo called with success limit=50 offset=0, got %s limit=%d offset=%d", fr.gotStatus, fr.gotLimit, fr.gotOffset)
	}

	body := decodeJSON(t, rr)
	items, ok := body["items"].([]any)
	if !ok {
		t.Fatalf("expected items array, got %T %v", body["items"], body)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestListMessages_ParsesStatusLimitOffset(t *testing.T) {
	fr := &fakeRepo{}
	s, mux := newTestServer(t, deps{repo: fr})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/messages?status=error&limit=10&offset=5", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fr.gotStatus != model.StatusError || fr.gotLimit != 10 || fr.gotOffset != 5 {
		t.Fatalf("expected repo called with error limit=10 offset=5, got %s limit=%d offset=%d", fr.gotStatus, fr.gotLimit, fr.gotOffset)
	}
	body := decodeJSON(t, rr)
	if items, ok := body["items"].([]any); !ok || len(items) != 0 {
		t.Fatalf("expected empty items array, got %v", body)
	}
}

func TestListSentMessages_InvalidLimitOffsetFallsBackToDefaults(t *testing.T) {
	fr := &fakeRepo{}
	s, mux := newTestServer(t, deps{repo: fr})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/messages/sent?limit=abc&offset=zzz", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fr.gotLimit != 50 || fr.gotOffset != 0 {
		t.Fatalf("expected defaults limit=50 offset=0, got limit=%d offset=%d", fr.gotLimit, fr.gotOffset)
	}
}

func TestListSentMessages_RepoErrorReturns500(t *testing.T) {
	fr := &fakeRepo{err: errors.New("db down")}
	s, mux := newTestServer(t, deps{repo: fr})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/messages/sent", "")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Fatalf("expected error body to contain repo error, got %q", rr.Body.String())
	}
}

func TestRouterRoot(t *testing.T) {
	s, mux := newTestServer(t, deps{})
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "message-dispatch" {
		t.Fatalf("expected body %q, got %q", "message-dispatch", got)
	}
}
