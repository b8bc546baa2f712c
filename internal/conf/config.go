package conf

import (
	"github.com/ringbrew/gsv/config"
)

type Config struct {
	Env           string        `yaml:"environment"`
	Debug         bool          `yaml:"debug"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Redis         Redis         `yaml:"redis"`
	Milvus        Milvus        `yaml:"milvus"`
	Embedding     Embedding     `yaml:"embedding"`
	ElasticSearch ElasticSearch `yaml:"elasticSearch"`
	Pipeline      Pipeline      `yaml:"pipeline"`
	Chunk         Chunk         `yaml:"chunk"`
	SearchLimit   SearchLimit   `yaml:"searchLimit"`
	ForceRebuild  bool          `yaml:"forceRebuild"`
	SeedPath      string        `yaml:"seedPath"`
}

type Redis struct {
	Host     string `yaml:"host"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Milvus struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       string `yaml:"db"`
}

// Embedding carries the embedding backend options. ModelVersion is bumped by
// operators whenever the served model changes, so stored vectors can be told
// apart from fresh ones.
type Embedding struct {
	EnableGeneration bool   `yaml:"enableGeneration"`
	Endpoint         string `yaml:"endpoint"`
	Token            string `yaml:"token"`
	Model            string `yaml:"model"`
	ModelVersion     int    `yaml:"modelVersion"`
	Dimension        int    `yaml:"dimension"`
}

type ElasticSearch struct {
	Address  []string `yaml:"address"`
	UserName string   `yaml:"userName"`
	Password string   `yaml:"password"`
}

type Pipeline struct {
	WorkerCount   int    `yaml:"workerCount"`
	JobStream     string `yaml:"jobStream"`
	EventStream   string `yaml:"eventStream"`
	ConsumerGroup string `yaml:"consumerGroup"`
}

type Chunk struct {
	MaxChars int `yaml:"maxChars"`
}

// SearchLimit throttles the search surface per api key. Zero values fall
// back to the service defaults.
type SearchLimit struct {
	IntervalSec int64 `yaml:"intervalSec"`
	AccessLimit int64 `yaml:"accessLimit"`
	InputLimit  int64 `yaml:"inputLimit"`
	OutputLimit int64 `yaml:"outputLimit"`
}

func Load(path string) (Config, error) {
	var result Config
	loader := config.NewLoader(config.LoaderTypeYml, path)
	if err := loader.Load(&result); err != nil {
		return Config{}, err
	}

	return result, nil
}
