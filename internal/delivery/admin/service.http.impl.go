package admin

import (
	"context"
	"log"
	"net/http"

	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/index"
	"github.com/northwind-labs/productrag/internal/domain/product"
	"github.com/ringbrew/gsv/service"
)

type Service struct {
	ctx *domain.UseCaseContext

	name   string
	remark string
	desc   service.Description
}

func NewService(ctx *domain.UseCaseContext, source *product.ESSource, store index.Store,
	embedder embedding.Client, dispatcher *index.Dispatcher, reindexer *index.Reindexer) service.Service {
	s := &Service{
		ctx:    ctx,
		name:   "admin",
		remark: "embedding pipeline administration",
	}

	if count, err := source.ProductCount(); err != nil {
		log.Fatal(err.Error())
	} else if ctx.Config.SeedPath != "" && (ctx.Config.ForceRebuild || count == 0) {
		r := product.NewSeedReader(ctx.Config.SeedPath)
		data, err := r.Read()
		if err != nil {
			log.Fatal(err.Error())
		}

		if ctx.Config.ForceRebuild {
			if err := source.Rebuild(context.Background()); err != nil {
				log.Fatal(err.Error())
			}
		}

		if err := source.CreateMany(context.Background(), data); err != nil {
			log.Fatal(err.Error())
		}
	}

	handler := NewHandler(ctx, store, embedder, dispatcher, reindexer)
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
		service.NewHttpRoute(http.MethodPost, "/admin/reindex", h.Reindex, service.HttpMeta{
			Remark: "schedule full or partial re-embedding",
		}),
		service.NewHttpRoute(http.MethodGet, "/admin/stats", h.Stats, service.HttpMeta{
			Remark: "embedding statistics",
		}),
		service.NewHttpRoute(http.MethodGet, "/admin/health", h.Health, service.HttpMeta{
			Remark: "embedding backend connectivity",
		}),
		service.NewHttpRoute(http.MethodPost, "/admin/event", h.Event, service.HttpMeta{
			Remark: "inject a product change event",
		}),
	}
	return result
}
