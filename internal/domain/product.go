package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Product — товар продавца с остатком на складе.
type Product struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Price       Money  `json:"price"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	Brand       string `json:"brand"`
	Stock       int    `json:"stock"`
	Category    string `json:"category,omitempty"`
	Tags        Tags   `json:"tags,omitempty"`
	SellerID    int    `json:"sellerId"`
}

// EntityID возвращает идентификатор для хранилища.
func (p Product) EntityID() int { return p.ID }

// WithEntityID возвращает копию с новым идентификатором.
func (p Product) WithEntityID(id int) Product {
	p.ID = id
	return p
}

// Clone возвращает независимую копию продукта.
func (p Product) Clone() Product {
	p.Tags = append(Tags(nil), p.Tags...)
	return p
}

// OwnedBy сообщает, принадлежит ли товар продавцу.
func (p Product) OwnedBy(sellerID int) bool {
	return sellerID > 0 && p.SellerID == sellerID
}

// ValidateInvariants проверяет инварианты товара и возвращает список замечаний.
func (p Product) ValidateInvariants() []error {
	var errs []error
	if strings.TrimSpace(p.Title) == "" {
		errs = append(errs, ErrTitleRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if p.SellerID <= 0 {
		errs = append(errs, ErrSellerIDRequired)
	}
	return errs
}

// Tags — набор меток товара без повторов.
// Во входном JSON допускается строка вида "a;b;c" или массив строк.
type Tags []string

// NewTags нормализует метки: trim, без пустых и дубликатов, по алфавиту.
func NewTags(values ...string) Tags {
	seen := make(map[string]struct{}, len(values))
	out := make(Tags, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// UnmarshalJSON принимает строку с разделителем ';' или массив.
func (t *Tags) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*t = nil
		return nil
	}

	if strings.HasPrefix(trimmed, "\"") {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode tags string: %w", err)
		}
		*t = NewTags(strings.Split(raw, ";")...)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode tags list: %w", err)
	}
	*t = NewTags(list...)
	return nil
}
