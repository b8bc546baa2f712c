package delivery

import (
	"github.com/northwind-labs/productrag/internal/delivery/admin"
	deliverysearch "github.com/northwind-labs/productrag/internal/delivery/search"
	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/index"
	"github.com/northwind-labs/productrag/internal/domain/product"
	"github.com/northwind-labs/productrag/internal/domain/search"
	"github.com/ringbrew/gsv/server"
	"github.com/ringbrew/gsv/service"
	"github.com/rs/cors"
)

func NewServer(ctx *domain.UseCaseContext) server.Server {
	opt := server.Classic()
	opt.Name = "productrag"
	opt.Host = ctx.Config.Host
	opt.Port = ctx.Config.Port
	opt.HttpMiddleware = append(opt.HttpMiddleware, cors.AllowAll())

	return server.NewServer(server.HTTP, &opt)
}

type Deps struct {
	Source     *product.ESSource
	Store      index.Store
	Embedder   embedding.Client
	Dispatcher *index.Dispatcher
	Reindexer  *index.Reindexer
	SearchUC   *search.UseCase
}

func ServiceList(ctx *domain.UseCaseContext, deps Deps) []service.Service {
	return []service.Service{
		deliverysearch.NewService(ctx, deps.SearchUC),
		admin.NewService(ctx, deps.Source, deps.Store, deps.Embedder, deps.Dispatcher, deps.Reindexer),
	}
}
