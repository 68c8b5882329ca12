package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MetadataKind tags the variant carried by TitleMetadata.
type MetadataKind string

const (
	MetadataGeneric     MetadataKind = "generic"
	MetadataProduct     MetadataKind = "product"
	MetadataProductInfo MetadataKind = "product_info"
)

// Product describes a product promoted by a title.
type Product struct {
	Name          string  `json:"name" yaml:"name"`
	URL           string  `json:"url,omitempty" yaml:"url"`
	Price         float64 `json:"price,omitempty" yaml:"price"`
	Currency      string  `json:"currency,omitempty" yaml:"currency"`
	AffiliateLink string  `json:"affiliate_link,omitempty" yaml:"affiliate_link"`
}

// ProductInfo is an informational summary about a product category.
type ProductInfo struct {
	Summary    string   `json:"summary" yaml:"summary"`
	Highlights []string `json:"highlights,omitempty" yaml:"highlights"`
}

// TitleMetadata is a tagged document: Kind selects which of Product or
// ProductInfo is set. Extra carries fields from producers not modeled here.
type TitleMetadata struct {
	Kind        MetadataKind   `json:"kind" yaml:"kind"`
	Product     *Product       `json:"product,omitempty" yaml:"product"`
	ProductInfo *ProductInfo   `json:"product_info,omitempty" yaml:"product_info"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// Validate checks that the variant matches Kind.
func (m *TitleMetadata) Validate() error {
	if m == nil {
		return nil
	}
	if m.Kind == "" {
		m.Kind = MetadataGeneric
	}
	switch m.Kind {
	case MetadataGeneric:
		if m.Product != nil || m.ProductInfo != nil {
			return fmt.Errorf("%w: generic metadata cannot carry product fields", ErrInvalid)
		}
	case MetadataProduct:
		if m.Product == nil || m.ProductInfo != nil {
			return fmt.Errorf("%w: product metadata requires exactly the product variant", ErrInvalid)
		}
		if strings.TrimSpace(m.Product.Name) == "" {
			return fmt.Errorf("%w: product name is required", ErrInvalid)
		}
		if m.Product.Price < 0 {
			return fmt.Errorf("%w: product price cannot be negative", ErrInvalid)
		}
	case MetadataProductInfo:
		if m.ProductInfo == nil || m.Product != nil {
			return fmt.Errorf("%w: product_info metadata requires exactly the product_info variant", ErrInvalid)
		}
		if strings.TrimSpace(m.ProductInfo.Summary) == "" {
			return fmt.Errorf("%w: product_info summary is required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: metadata kind %q", ErrInvalid, m.Kind)
	}
	return nil
}

func encodeTitleMetadata(m *TitleMetadata) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode title metadata: %w", err)
	}
	return string(data), nil
}

func decodeTitleMetadata(raw string) (*TitleMetadata, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m TitleMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode title metadata: %w", err)
	}
	return &m, nil
}

func encodeTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			clean = append(clean, tag)
		}
	}
	data, _ := json.Marshal(clean)
	return string(data)
}

func decodeTags(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
