package product

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrNotFound = errors.New("product: not found")

// Product is the relational product record as the commerce platform stores
// it. Attributes is the shop-defined free-form bag, serialized as a JSON
// object keyed by attribute name.
type Product struct {
	Id          string    `json:"id"`
	TenantId    string    `json:"tenantId,omitempty"`
	ShopId      string    `json:"shopId"`
	CategoryId  string    `json:"categoryId"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	InStock     bool      `json:"inStock"`
	OnSale      bool      `json:"onSale"`
	Active      bool      `json:"active"`
	Published   bool      `json:"published"`
	Attributes  string    `json:"attributes,omitempty"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`
	EmbeddedAt  time.Time `json:"embeddedAt,omitempty"`
}

// Eligible reports whether the product should carry active embeddings.
func (p *Product) Eligible() bool {
	return p.Active && p.Published
}

type Category struct {
	Id       string `json:"id"`
	TenantId string `json:"tenantId,omitempty"`
	Name     string `json:"name"`
}

type Shop struct {
	Id       string `json:"id"`
	TenantId string `json:"tenantId,omitempty"`
	Name     string `json:"name"`
}

// AttributeDefinition describes one shop-configured attribute: how its value
// is typed, how it is labeled inside embedding text, and whether it takes
// part in embeddings at all.
type AttributeDefinition struct {
	Id                 string `json:"id"`
	ShopId             string `json:"shopId"`
	Name               string `json:"name"`
	DataType           string `json:"dataType"`
	SemanticLabel      string `json:"semanticLabel"`
	Priority           int    `json:"priority"`
	IncludeInEmbedding bool   `json:"includeInEmbedding"`
}

// Scope makes cross-tenant reads explicit per call. Embedding work runs
// platform-wide, foreground reads stay tenant-fenced.
type Scope struct {
	platform bool
	tenantId string
}

func PlatformScope() Scope {
	return Scope{platform: true}
}

func TenantScope(tenantId string) Scope {
	return Scope{tenantId: tenantId}
}

func (s Scope) Platform() bool {
	return s.platform
}

func (s Scope) TenantId() string {
	return s.tenantId
}

type IdGenerator interface {
	NewId() string
}

type BsonIdGenerator struct {
}

func NewIdGenerator() IdGenerator {
	return &BsonIdGenerator{}
}

func (g *BsonIdGenerator) NewId() string {
	return primitive.NewObjectID().Hex()
}
