package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/northwind-labs/productrag/internal/conf"
	"github.com/northwind-labs/productrag/internal/delivery"
	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/index"
	"github.com/northwind-labs/productrag/internal/domain/product"
	"github.com/northwind-labs/productrag/internal/domain/search"
	"github.com/ringbrew/gsv-contrib/logger/zaplogger"
	"github.com/ringbrew/gsv/logger"
)

func main() {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	config := flag.String("f", "config.yaml", "config file path")
	flag.Parse()

	c, err := conf.Load(*config)
	if err != nil {
		log.Fatal(err.Error())
	}

	logger.SetLogger(zaplogger.New())

	ucc := domain.NewUseCaseContext(c)

	embedder, err := embedding.NewEmbedding(ucc)
	if err != nil {
		log.Fatal(err.Error())
	}

	store, err := index.NewStore(ucc, embedder.Dimension())
	if err != nil {
		log.Fatal(err.Error())
	}

	source, err := product.NewSource(ucc)
	if err != nil {
		log.Fatal(err.Error())
	}

	builder := product.NewCanonicalBuilder(source, ucc.Logger)
	chunker := index.NewChunker(c.Chunk.MaxChars)
	pipeline := index.NewPipeline(source, builder, chunker, embedder, store,
		c.Embedding.EnableGeneration, ucc.Logger)

	queue := index.NewRedisQueue(ucc)
	dispatcher := index.NewDispatcher(queue, c.Embedding.EnableGeneration, ucc.Logger)
	reindexer := index.NewReindexer(source, store, dispatcher, embedder, ucc.Logger)

	// background pipeline: change-event intake plus the worker pool
	queue.Run(ucc.Signal, c.Pipeline.WorkerCount, pipeline.Handle, ucc.Watch, ucc.Done)

	intake := index.NewEventIntake(ucc, dispatcher)
	ucc.Watch()
	go func() {
		defer ucc.Done()
		intake.Run(ucc.Signal)
	}()

	s := delivery.NewServer(ucc)
	svcImpl := delivery.ServiceList(ucc, delivery.Deps{
		Source:     source,
		Store:      store,
		Embedder:   embedder,
		Dispatcher: dispatcher,
		Reindexer:  reindexer,
		SearchUC:   search.NewUseCase(embedder, store, ucc.Logger),
	})

	for i := range svcImpl {
		if err := s.Register(svcImpl[i]); err != nil {
			log.Fatal(err.Error())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-interrupt
		cancel()
	}()

	s.Run(ctx)

	ucc.Close()
}
