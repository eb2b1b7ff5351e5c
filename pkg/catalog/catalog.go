// Package catalog reads product records from the shop database for
// response enrichment.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Product is one eyewear catalog entry.
type Product struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand,omitempty"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	NewPrice    decimal.Decimal `json:"newPrice,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Images      []string        `json:"images,omitempty"`
	Color       string          `json:"color,omitempty"`
	Gender      string          `json:"gender,omitempty"`
	FrameShape  string          `json:"frame_shape,omitempty"`
	FrameSize   string          `json:"frame_size,omitempty"`
	LensWidth   string          `json:"lens_width,omitempty"`
	Stock       int             `json:"stock"`
}

// Fields flattens the product to the metadata map attached to enriched
// responses.
func (p *Product) Fields() map[string]any {
	out := map[string]any{
		"product_id": p.ProductID,
		"name":       p.Name,
		"price":      p.Price,
		"stock":      p.Stock,
	}
	if !p.NewPrice.IsZero() {
		out["newPrice"] = p.NewPrice
	}
	if p.Brand != "" {
		out["brand"] = p.Brand
	}
	if p.Category != "" {
		out["category"] = p.Category
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.ImageURL != "" {
		out["image_url"] = p.ImageURL
	}
	if len(p.Images) > 0 {
		out["images"] = p.Images
	}
	if p.Color != "" {
		out["color"] = p.Color
	}
	if p.Gender != "" {
		out["gender"] = p.Gender
	}
	if p.FrameShape != "" {
		out["frame_shape"] = p.FrameShape
	}
	if p.FrameSize != "" {
		out["frame_size"] = p.FrameSize
	}
	if p.LensWidth != "" {
		out["lens_width"] = p.LensWidth
	}
	return out
}

// Catalog queries the products table.
type Catalog struct {
	db      *sql.DB
	dialect string
}

// New wraps an open database handle.
func New(db *sql.DB, dialect string) (*Catalog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	return &Catalog{db: db, dialect: dialect}, nil
}

const productColumns = `product_id, name, brand, category, description, price, new_price,
image_url, images, color, gender, frame_shape, frame_size, lens_width, stock`

// GetByID fetches one product. A missing product returns (nil, nil).
func (c *Catalog) GetByID(ctx context.Context, productID string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE product_id = ?`
	if c.dialect == "postgres" {
		query = `SELECT ` + productColumns + ` FROM products WHERE product_id = $1`
	}

	row := c.db.QueryRowContext(ctx, query, productID)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}
	return p, nil
}

// GetByIDs fetches many products, skipping unknown IDs. Order follows
// the input.
func (c *Catalog) GetByIDs(ctx context.Context, productIDs []string) ([]*Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(productIDs))
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		if c.dialect == "postgres" {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
		args[i] = id
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE product_id IN (` +
		strings.Join(placeholders, ", ") + `)`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Product)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		byID[p.ProductID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Product, 0, len(byID))
	for _, id := range productIDs {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*Product, error) {
	p := &Product{}
	var (
		brand, category, description     sql.NullString
		newPrice                         sql.NullString
		imageURL, images                 sql.NullString
		color, gender                    sql.NullString
		frameShape, frameSize, lensWidth sql.NullString
		price                            string
	)
	err := row.Scan(&p.ProductID, &p.Name, &brand, &category, &description,
		&price, &newPrice, &imageURL, &images, &color, &gender,
		&frameShape, &frameSize, &lensWidth, &p.Stock)
	if err != nil {
		return nil, err
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price for product %s: %w", p.ProductID, err)
	}
	if newPrice.Valid && newPrice.String != "" {
		p.NewPrice, err = decimal.NewFromString(newPrice.String)
		if err != nil {
			return nil, fmt.Errorf("invalid new price for product %s: %w", p.ProductID, err)
		}
	}

	p.Brand = brand.String
	p.Category = category.String
	p.Description = description.String
	p.ImageURL = imageURL.String
	p.Color = color.String
	p.Gender = gender.String
	p.FrameShape = frameShape.String
	p.FrameSize = frameSize.String
	p.LensWidth = lensWidth.String
	if images.Valid && images.String != "" {
		for _, img := range strings.Split(images.String, ",") {
			if img = strings.TrimSpace(img); img != "" {
				p.Images = append(p.Images, img)
			}
		}
	}
	return p, nil
}
