package models

import (
	"fmt"
	"strings"
)

// ProductKind identifies a purchasable report.
type ProductKind string

const (
	ProductDestiny       ProductKind = "destiny"
	ProductSolar         ProductKind = "solar"
	ProductIncome        ProductKind = "income"
	ProductCompatibility ProductKind = "compatibility"
)

// Product describes how a kind is stored, rendered and sold.
type Product struct {
	Kind        ProductKind
	Title       string
	Description string
	Command     string
	Button      string
	FilePrefix  string
	PaidColumn  string
	DocColumn   string
}

var products = []Product{
	{
		Kind:        ProductDestiny,
		Title:       "Карта предназначения",
		Description: "Персональное послание о твоей миссии, талантах и сферах роста.",
		Command:     "prednaznachenie",
		Button:      "📜 Карта предназначения",
		FilePrefix:  "Karta_Prednaznacheniya",
		PaidColumn:  "paid_destiny",
		DocColumn:   "destiny_doc",
	},
	{
		Kind:        ProductSolar,
		Title:       "Годовой путь",
		Description: "Разбор соляра: главные темы и повороты твоего личного года.",
		Command:     "godovoyputj",
		Button:      "🗺️ Годовой путь",
		FilePrefix:  "Godovoy_Put",
		PaidColumn:  "paid_solar",
		DocColumn:   "solar_doc",
	},
	{
		Kind:        ProductIncome,
		Title:       "Доход и карьера",
		Description: "Где твои деньги: профессиональные сильные стороны и точки роста дохода.",
		Command:     "dohod",
		Button:      "💸 Карьера и доход",
		FilePrefix:  "Dohod_i_Karera",
		PaidColumn:  "paid_income",
		DocColumn:   "income_doc",
	},
	{
		Kind:        ProductCompatibility,
		Title:       "Совместимость",
		Description: "Совместимость по дате рождения: что вас связывает и где искать компромисс.",
		Command:     "sovmestimost",
		Button:      "💞 Совместимость по дате рождения",
		FilePrefix:  "Sovmestimost",
		PaidColumn:  "paid_compatibility",
		DocColumn:   "compatibility_doc",
	},
}

var aliases = map[string]ProductKind{
	"solyar":      ProductSolar,
	"annual":      ProductSolar,
	"annual-path": ProductSolar,
	"annual_path": ProductSolar,
	"career":      ProductIncome,
}

// Products returns all product descriptors in menu order.
func Products() []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// ParseProductKind resolves a wire value, including legacy aliases.
func ParseProductKind(s string) (ProductKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range products {
		if string(p.Kind) == s {
			return p.Kind, nil
		}
	}
	if k, ok := aliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown product kind %q", s)
}

// Lookup returns the descriptor for kind.
func (k ProductKind) Lookup() (Product, bool) {
	for _, p := range products {
		if p.Kind == k {
			return p, true
		}
	}
	return Product{}, false
}

func (k ProductKind) Valid() bool {
	_, ok := k.Lookup()
	return ok
}

func (k ProductKind) String() string {
	return string(k)
}
