package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/core/service"
)

// productCacheTTL keeps price lookups warm across the items of one
// checkout without serving stale prices for long.
const productCacheTTL = 30 * time.Second

type cachedProduct struct {
	product domain.Product
	fetched time.Time
}

// CatalogClient reads products from the external catalog service over
// HTTP. A singleflight group collapses concurrent misses for the same
// product and a short TTL cache absorbs checkout bursts.
type CatalogClient struct {
	baseURL string
	client  *http.Client
	sfg     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedProduct
}

func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   make(map[string]cachedProduct),
	}
}

func (c *CatalogClient) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	c.mu.RLock()
	entry, ok := c.cache[productID]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetched) < productCacheTTL {
		product := entry.product
		return &product, nil
	}

	v, err, _ := c.sfg.Do(productID, func() (interface{}, error) {
		return c.fetch(ctx, productID)
	})
	if err != nil {
		return nil, err
	}

	product := v.(domain.Product)
	return &product, nil
}

func (c *CatalogClient) fetch(ctx context.Context, productID string) (domain.Product, error) {
	endpoint := fmt.Sprintf("%s/products/%s", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Product{}, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Product{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Product{}, service.ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Product{}, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var product domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return domain.Product{}, fmt.Errorf("decode product: %w", err)
	}

	c.mu.Lock()
	c.cache[productID] = cachedProduct{product: product, fetched: time.Now()}
	c.mu.Unlock()

	return product, nil
}

// StaticCatalog serves a fixed product set. Used for local development when
// no catalog service is configured.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewStaticCatalog(products ...domain.Product) *StaticCatalog {
	c := &StaticCatalog{products: make(map[string]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *StaticCatalog) Put(product domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
}

func (c *StaticCatalog) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.products[productID]
	if !ok {
		return nil, service.ErrProductNotFound
	}
	return &product, nil
}
