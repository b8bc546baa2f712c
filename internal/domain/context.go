package domain

import (
	"context"
	"log"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-redis/redis/v8"
	"github.com/northwind-labs/productrag/internal/conf"
	"go.uber.org/zap"
)

type UseCaseContext struct {
	Config        conf.Config
	ElasticSearch *elasticsearch.Client
	Redis         *redis.Client
	Logger        *zap.Logger
	Signal        context.Context
	cancel        context.CancelFunc
	WaitGroup     sync.WaitGroup
}

func (ctx *UseCaseContext) Watch() {
	ctx.WaitGroup.Add(1)
}

func (ctx *UseCaseContext) Done() {
	ctx.WaitGroup.Done()
}

func (ctx *UseCaseContext) Close() {
	if ctx.cancel != nil {
		ctx.cancel()
	}
	ctx.WaitGroup.Wait()
	_ = ctx.Logger.Sync()
}

var dsc *UseCaseContext

func NewUseCaseContext(c conf.Config) *UseCaseContext {
	if dsc == nil {
		dsc = &UseCaseContext{
			Config: c,
		}

		dsc.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Redis.Host,
			DB:       c.Redis.DB,
			Password: c.Redis.Password,
		})

		esClient, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: c.ElasticSearch.Address,
			Username:  c.ElasticSearch.UserName,
			Password:  c.ElasticSearch.Password,
		})
		if err != nil {
			log.Fatal(err)
		}

		dsc.ElasticSearch = esClient

		zl, err := newZap(c.Debug)
		if err != nil {
			log.Fatal(err)
		}
		dsc.Logger = zl

		dsc.Signal, dsc.cancel = context.WithCancel(context.Background())
	}

	return dsc
}

func newZap(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
