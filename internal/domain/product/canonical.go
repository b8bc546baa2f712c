package product

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CanonicalSchemaVersion tags the shape of CanonicalProductDocument. Bump it
// whenever the rendered document changes so stored embeddings can be told
// apart from ones built against an older shape.
const CanonicalSchemaVersion = 3

type CanonicalAttribute struct {
	Value         string `json:"value"`
	DataType      string `json:"dataType"`
	SemanticLabel string `json:"semanticLabel"`
	Priority      int    `json:"priority"`
}

// CanonicalProductDocument is a point-in-time normalized view of a product,
// reproducible from source data at any moment. AttributeOrder keeps the
// attribute blob's original key order so rendering stays deterministic.
type CanonicalProductDocument struct {
	SchemaVersion  int                           `json:"schemaVersion"`
	ProductId      string                        `json:"productId"`
	ShopId         string                        `json:"shopId"`
	TenantId       string                        `json:"tenantId,omitempty"`
	Name           string                        `json:"name"`
	Description    string                        `json:"description"`
	SKU            string                        `json:"sku"`
	Price          float64                       `json:"price"`
	InStock        bool                          `json:"inStock"`
	OnSale         bool                          `json:"onSale"`
	CategoryName   string                        `json:"categoryName"`
	ShopName       string                        `json:"shopName"`
	GeneratedAt    time.Time                     `json:"generatedAt"`
	Attributes     map[string]CanonicalAttribute `json:"attributes"`
	AttributeOrder []string                      `json:"attributeOrder"`
}

// EmbeddingText renders the document into the single deterministic string
// the chunker and embedding client consume. Attributes come out ordered by
// priority descending, ties by their order in the source blob.
func (d *CanonicalProductDocument) EmbeddingText() string {
	var b strings.Builder

	b.WriteString(d.Name)
	if d.Description != "" {
		b.WriteString("\n")
		b.WriteString(d.Description)
	}
	if d.CategoryName != "" {
		b.WriteString("\nCategory: ")
		b.WriteString(d.CategoryName)
	}

	keys := make([]string, len(d.AttributeOrder))
	copy(keys, d.AttributeOrder)
	sort.SliceStable(keys, func(i, j int) bool {
		return d.Attributes[keys[i]].Priority > d.Attributes[keys[j]].Priority
	})

	for _, key := range keys {
		attr := d.Attributes[key]
		label := attr.SemanticLabel
		if label == "" {
			label = key
		}
		b.WriteString("\n")
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(attr.Value)
	}

	return b.String()
}

// CanonicalBuilder assembles canonical documents. Category and shop names
// are loaded platform-wide since embeddings serve cross-tenant search.
type CanonicalBuilder struct {
	source Source
	logger *zap.Logger
}

func NewCanonicalBuilder(source Source, logger *zap.Logger) *CanonicalBuilder {
	return &CanonicalBuilder{
		source: source,
		logger: logger,
	}
}

func (cb *CanonicalBuilder) Build(ctx context.Context, p *Product) (*CanonicalProductDocument, error) {
	doc := &CanonicalProductDocument{
		SchemaVersion: CanonicalSchemaVersion,
		ProductId:     p.Id,
		ShopId:        p.ShopId,
		TenantId:      p.TenantId,
		Name:          p.Name,
		Description:   p.Description,
		SKU:           p.SKU,
		Price:         p.Price,
		InStock:       p.InStock,
		OnSale:        p.OnSale,
		GeneratedAt:   time.Now(),
		Attributes:    make(map[string]CanonicalAttribute),
	}

	if p.CategoryId != "" {
		category, err := cb.source.FindCategory(ctx, p.CategoryId)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			cb.logger.Debug("category missing for canonical document",
				zap.String("productId", p.Id),
				zap.String("categoryId", p.CategoryId),
			)
		} else {
			doc.CategoryName = category.Name
		}
	}

	if p.ShopId != "" {
		shop, err := cb.source.FindShop(ctx, p.ShopId)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			cb.logger.Debug("shop missing for canonical document",
				zap.String("productId", p.Id),
				zap.String("shopId", p.ShopId),
			)
		} else {
			doc.ShopName = shop.Name
		}
	}

	if err := cb.resolveAttributes(ctx, p, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

func (cb *CanonicalBuilder) resolveAttributes(ctx context.Context, p *Product, doc *CanonicalProductDocument) error {
	keys, values, ok := parseAttributeBlob(p.Attributes)
	if !ok {
		if strings.TrimSpace(p.Attributes) != "" {
			// tolerated: a broken blob degrades to no attributes
			cb.logger.Warn("unparseable attribute blob",
				zap.String("productId", p.Id),
			)
		}
		return nil
	}

	defs, err := cb.source.ListAttributeDefinitions(ctx, p.ShopId)
	if err != nil {
		return err
	}

	defByName := make(map[string]AttributeDefinition, len(defs))
	for _, def := range defs {
		defByName[strings.ToLower(def.Name)] = def
	}

	for _, key := range keys {
		attr := CanonicalAttribute{
			Value:    values[key],
			DataType: "text",
		}

		if def, found := defByName[strings.ToLower(key)]; found {
			if !def.IncludeInEmbedding {
				continue
			}
			attr.DataType = def.DataType
			attr.SemanticLabel = def.SemanticLabel
			attr.Priority = def.Priority
		}

		if attr.Value == "" {
			continue
		}

		doc.Attributes[key] = attr
		doc.AttributeOrder = append(doc.AttributeOrder, key)
	}

	return nil
}

// parseAttributeBlob decodes the product's free-form attribute JSON object,
// keeping keys in document order. Scalar values render to their natural
// string form; nested values are skipped. A blob that is empty or not an
// object reports ok=false.
func parseAttributeBlob(blob string) (keys []string, values map[string]string, ok bool) {
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" {
		return nil, nil, false
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, false
	}
	if delim, isDelim := tok.(json.Delim); !isDelim || delim != '{' {
		return nil, nil, false
	}

	values = make(map[string]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, false
		}
		key, isString := keyTok.(string)
		if !isString {
			return nil, nil, false
		}

		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, false
		}

		value, scalar := renderAttributeValue(raw)
		if !scalar {
			continue
		}

		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = value
	}

	return keys, values, true
}

func renderAttributeValue(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "", true
	default:
		return "", false
	}
}
