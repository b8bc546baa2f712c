package admin

import (
	"encoding/json"
	"net/http"

	"github.com/mholt/binding"
	"github.com/northwind-labs/productrag/internal/delivery/common"
	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/index"
)

type Handler struct {
	ctx        *domain.UseCaseContext
	store      index.Store
	embedder   embedding.Client
	dispatcher *index.Dispatcher
	reindexer  *index.Reindexer
}

func NewHandler(ctx *domain.UseCaseContext, store index.Store, embedder embedding.Client,
	dispatcher *index.Dispatcher, reindexer *index.Reindexer) *Handler {
	return &Handler{
		ctx:        ctx,
		store:      store,
		embedder:   embedder,
		dispatcher: dispatcher,
		reindexer:  reindexer,
	}
}

type ReindexParam struct {
	Mode      string `json:"mode"`
	BatchSize int64  `json:"batchSize"`
}

func (rp *ReindexParam) FieldMap(req *http.Request) binding.FieldMap {
	return binding.FieldMap{
		&rp.Mode:      "mode",
		&rp.BatchSize: "batchSize",
	}
}

// Reindex schedules re-embedding: mode=full sweeps the eligible catalog,
// mode=outdated (the default) targets products behind the current model
// version.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	rp := ReindexParam{}
	if err := binding.Bind(r, &rp); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error()))
		return
	}

	var scheduled int
	var err error

	switch rp.Mode {
	case "full":
		scheduled, err = h.reindexer.ReindexAll(r.Context())
	default:
		scheduled, err = h.reindexer.ReindexOutdated(r.Context(), int(rp.BatchSize))
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	common.Render().JSON(w, http.StatusOK, map[string]interface{}{
		"scheduled": scheduled,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), h.embedder.ModelVersion())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	stats.ModelName = h.embedder.ModelName()

	common.Render().JSON(w, http.StatusOK, stats)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ok := h.embedder.TestConnection(r.Context())

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	common.Render().JSON(w, status, map[string]interface{}{
		"embeddingBackend": ok,
		"model":            h.embedder.ModelName(),
		"modelVersion":     h.embedder.ModelVersion(),
		"dimension":        h.embedder.Dimension(),
	})
}

// Event lets operators inject a ProductChangeEvent by hand, mostly to replay
// a change the bus lost.
func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	var ev index.ProductChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error()))
		return
	}

	if ev.ProductId == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("productId required"))
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), ev); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	common.Render().JSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
	})
}
