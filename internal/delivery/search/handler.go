package search

import (
	"net/http"
	"strings"

	"github.com/mholt/binding"
	"github.com/northwind-labs/productrag/internal/delivery/common"
	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/search"
)

type Handler struct {
	ctx *domain.UseCaseContext
	uc  *search.UseCase
}

func NewHandler(ctx *domain.UseCaseContext, uc *search.UseCase) *Handler {
	return &Handler{
		ctx: ctx,
		uc:  uc,
	}
}

type SearchParam struct {
	Keyword  string `json:"keyword"`
	Top      int64  `json:"top"`
	TenantId string `json:"tenantId"`
	ShopId   string `json:"shopId"`
}

func (sp *SearchParam) FieldMap(req *http.Request) binding.FieldMap {
	return binding.FieldMap{
		&sp.Top:      "top",
		&sp.TenantId: "tenantId",
		&sp.ShopId:   "shopId",
		&sp.Keyword: binding.Field{
			Form: "keyword",
		},
	}
}

type SimilarParam struct {
	ProductId string `json:"productId"`
	Top       int64  `json:"top"`
}

func (sp *SimilarParam) FieldMap(req *http.Request) binding.FieldMap {
	return binding.FieldMap{
		&sp.Top: "top",
		&sp.ProductId: binding.Field{
			Form:     "productId",
			Required: true,
		},
	}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, input SearchParam) (string, bool) {
	apiKey := r.Header.Get("X-Productrag-Api-Key")
	if apiKey == "" {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("auth fail"))
		return "", false
	}

	if err := NewLimiter(h.ctx).Check(r.Context(), CheckLimitInput{
		Aspect: AspectApiKeyAccess,
		ApiKey: apiKey,
	}); err != nil {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(err.Error()))
		return "", false
	}

	if err := NewLimiter(h.ctx).Check(r.Context(), CheckLimitInput{
		Aspect: AspectApiKeyInput,
		ApiKey: apiKey,
		Input:  input,
	}); err != nil {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(err.Error()))
		return "", false
	}

	return apiKey, true
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	sp := SearchParam{}
	if err := binding.Bind(r, &sp); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error()))
		return
	}

	sp.Keyword = strings.TrimSpace(sp.Keyword)

	apiKey, ok := h.authorize(w, r, sp)
	if !ok {
		return
	}

	data, err := h.uc.Search(r.Context(), sp.Keyword, int(sp.Top), sp.TenantId, sp.ShopId)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	if err := NewLimiter(h.ctx).Check(r.Context(), CheckLimitInput{
		Aspect: AspectApiKeyOutput,
		ApiKey: apiKey,
		Output: data,
	}); err != nil {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(err.Error()))
		return
	}

	common.Render().JSON(w, http.StatusOK, map[string]interface{}{
		"total": len(data),
		"data":  data,
	})
}

func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	sp := SimilarParam{}
	if err := binding.Bind(r, &sp); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error()))
		return
	}

	if _, ok := h.authorize(w, r, SearchParam{Keyword: sp.ProductId, Top: sp.Top}); !ok {
		return
	}

	data, err := h.uc.GetSimilarProducts(r.Context(), sp.ProductId, int(sp.Top))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	common.Render().JSON(w, http.StatusOK, map[string]interface{}{
		"total": len(data),
		"data":  data,
	})
}
