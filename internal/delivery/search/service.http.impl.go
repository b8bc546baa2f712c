package search

import (
	"net/http"

	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/search"
	"github.com/ringbrew/gsv/service"
)

type Service struct {
	ctx *domain.UseCaseContext

	name   string
	remark string
	desc   service.Description
}

func NewService(ctx *domain.UseCaseContext, uc *search.UseCase) service.Service {
	s := &Service{
		ctx:    ctx,
		name:   "search",
		remark: "semantic product search",
	}

	handler := NewHandler(ctx, uc)
	s.desc.HttpRoute = append(s.desc.HttpRoute, handler.HttpRoute()...)
	return s
}

func (s *Service) Name() string {
	return s.name
}

func (s *Service) Remark() string {
	return s.remark
}

func (s *Service) Description() service.Description {
	return s.desc
}

func (h *Handler) HttpRoute() []service.HttpRoute {
	result := []service.HttpRoute{
		service.NewHttpRoute(http.MethodGet, "/search", h.Query, service.HttpMeta{
			Remark: "semantic product search",
		}),
		service.NewHttpRoute(http.MethodGet, "/similar", h.Similar, service.HttpMeta{
			Remark: "similar products by reference id",
		}),
	}
	return result
}
