package api

import "net/http"

// Routes adds a group of endpoints to the mux.
type Routes interface {
	Register(mux *http.ServeMux)
}

func Router(h *Handler, extra ...Routes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/messages", h.EnqueueMessage)
	mux.HandleFunc("GET /v1/messages", h.ListMessages)
	mux.HandleFunc("GET /v1/messages/sent", h.ListSentMessages)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("POST /v1/messages/{id}/requeue", h.RequeueMessage)
	mux.HandleFunc("GET /v1/messages/{id}/receipt", h.MessageReceipt)

	for _, r := range extra {
		r.Register(mux)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("message-dispatch"))
	})

	return mux
}
