package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "shop.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
CREATE TABLE products (
    product_id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    brand VARCHAR(255),
    category VARCHAR(255),
    description TEXT,
    price VARCHAR(64) NOT NULL,
    new_price VARCHAR(64),
    image_url TEXT,
    images TEXT,
    color VARCHAR(64),
    gender VARCHAR(32),
    frame_shape VARCHAR(64),
    frame_size VARCHAR(64),
    lens_width VARCHAR(64),
    stock INTEGER NOT NULL DEFAULT 0
)`)
	if err != nil {
		t.Fatal(err)
	}

	seed := `
INSERT INTO products (product_id, name, brand, category, price, new_price, images, color, stock)
VALUES
  ('GL123', 'Aviator Classic', 'RayBan', 'sunglasses', '1200000', '990000', 'a.jpg, b.jpg', 'gold', 12),
  ('GL456', 'Round Metal', 'RayBan', 'sunglasses', '1500000', '', '', 'black', 3)`
	if _, err := db.Exec(seed); err != nil {
		t.Fatal(err)
	}

	c, err := New(db, "sqlite")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGetByID(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	p, err := c.GetByID(ctx, "GL123")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("expected a product")
	}
	if p.Name != "Aviator Classic" || p.Brand != "RayBan" {
		t.Fatalf("unexpected product %+v", p)
	}
	if !p.Price.Equal(decimal.NewFromInt(1200000)) {
		t.Fatalf("unexpected price %s", p.Price)
	}
	if !p.NewPrice.Equal(decimal.NewFromInt(990000)) {
		t.Fatalf("unexpected sale price %s", p.NewPrice)
	}
	if len(p.Images) != 2 || p.Images[0] != "a.jpg" {
		t.Fatalf("images not split: %v", p.Images)
	}
}

func TestGetByIDMissing(t *testing.T) {
	c := newCatalog(t)
	p, err := c.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("missing product must be (nil, nil), got %+v", p)
	}
}

func TestGetByIDsOrderAndSkips(t *testing.T) {
	c := newCatalog(t)
	products, err := c.GetByIDs(context.Background(), []string{"GL456", "missing", "GL123"})
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	// Output follows input order, unknown IDs are skipped.
	if products[0].ProductID != "GL456" || products[1].ProductID != "GL123" {
		t.Fatalf("order not preserved: %s, %s", products[0].ProductID, products[1].ProductID)
	}
}

func TestFields(t *testing.T) {
	c := newCatalog(t)
	p, err := c.GetByID(context.Background(), "GL456")
	if err != nil {
		t.Fatal(err)
	}

	fields := p.Fields()
	if fields["product_id"] != "GL456" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["newPrice"]; ok {
		t.Fatal("zero sale price must be omitted")
	}
	if _, ok := fields["brand"]; !ok {
		t.Fatal("brand must be present")
	}
}

func TestNewRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := New(db, "mssql"); err == nil {
		t.Fatal("unsupported dialect must be rejected")
	}
}
