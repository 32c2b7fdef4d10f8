// Package store persists products in an indexed key-value record store.
// Items live under an items path keyed by a 1-based index; a counter at the
// last-item path holds the highest index written.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/maltedev/bestseller-affiliator/internal/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrStoreUnavailable = errors.New("record store unavailable")
	ErrInvalidIndex     = errors.New("item index must be at least 1")
)

// Backend is a hierarchical key-value store addressed by slash-delimited
// paths.
type Backend interface {
	Get(ctx context.Context, path string) ([]byte, bool, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Close() error
}

// Incrementer is implemented by backends that can advance a counter
// atomically.
type Incrementer interface {
	Incr(ctx context.Context, path string) (int, error)
}

type Options struct {
	LastItemPath string
	ItemsPath    string
	// AtomicAppend allocates indices with the backend's Incrementer instead
	// of reading and rewriting the counter. Without it concurrent writers can
	// claim the same index.
	AtomicAppend bool
}

func DefaultOptions() Options {
	return Options{
		LastItemPath: "/last_item",
		ItemsPath:    "/itens",
	}
}

// Entry is a stored product with its index.
type Entry struct {
	Index   int
	Product *models.Product
}

// Gateway reads and writes product records. A Gateway without a backend runs
// in no-op mode: writes are logged and dropped, reads return defaults.
type Gateway struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

func NewGateway(backend Backend, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.LastItemPath == "" {
		opts.LastItemPath = defaults.LastItemPath
	}
	if opts.ItemsPath == "" {
		opts.ItemsPath = defaults.ItemsPath
	}

	return &Gateway{
		backend: backend,
		opts:    opts,
		logger:  logger.With("component", "store"),
	}
}

// NewNoOp returns a Gateway that persists nothing.
func NewNoOp(opts Options, logger *slog.Logger) *Gateway {
	return NewGateway(nil, opts, logger)
}

func (g *Gateway) NoOp() bool {
	return g.backend == nil
}

func (g *Gateway) ItemPath(index int) string {
	return path.Join("/", g.opts.ItemsPath, strconv.Itoa(index))
}

// GetLastItemIndex returns the highest written index, or 0 when the counter
// is unset or cannot be read.
func (g *Gateway) GetLastItemIndex(ctx context.Context) int {
	n, err := g.lastIndex(ctx)
	if err != nil {
		g.logger.Error("failed to get last item index", "error", err)
		return 0
	}
	return n
}

func (g *Gateway) lastIndex(ctx context.Context) (int, error) {
	if g.NoOp() {
		return 0, nil
	}

	data, ok, err := g.backend.Get(ctx, g.opts.LastItemPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	var n *int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, fmt.Errorf("invalid last item index %q: %w", data, err)
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

func (g *Gateway) UpdateLastItemIndex(ctx context.Context, index int) error {
	if g.NoOp() {
		g.logger.Info("no-op mode: would update last item index", "index", index)
		return nil
	}
	if err := g.backend.Set(ctx, g.opts.LastItemPath, index); err != nil {
		return fmt.Errorf("failed to update last item index: %w", err)
	}
	return nil
}

// AddProduct appends p after the last written index and returns its index.
// In no-op mode it returns 0.
func (g *Gateway) AddProduct(ctx context.Context, p *models.Product) (int, error) {
	if g.NoOp() {
		g.logger.Info("no-op mode: would add product", "name", p.Name)
		return 0, nil
	}

	index, atomic, err := g.nextIndex(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate item index: %w", err)
	}

	if err := g.backend.Update(ctx, g.ItemPath(index), p.ToRecord().Fields()); err != nil {
		return 0, fmt.Errorf("failed to write item %d: %w", index, err)
	}

	if !atomic {
		if err := g.UpdateLastItemIndex(ctx, index); err != nil {
			return 0, err
		}
	}

	g.logger.Info("added product", "index", index, "name", p.Name)
	return index, nil
}

func (g *Gateway) nextIndex(ctx context.Context) (int, bool, error) {
	if g.opts.AtomicAppend {
		if inc, ok := g.backend.(Incrementer); ok {
			index, err := inc.Incr(ctx, g.opts.LastItemPath)
			return index, true, err
		}
		g.logger.Warn("backend has no atomic increment, falling back to read-then-write")
	}

	last, err := g.lastIndex(ctx)
	if err != nil {
		return 0, false, err
	}
	return last + 1, false, nil
}

func (g *Gateway) UpdateProduct(ctx context.Context, index int, p *models.Product) error {
	if index < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	if g.NoOp() {
		g.logger.Info("no-op mode: would update product", "index", index, "name", p.Name)
		return nil
	}

	if err := g.backend.Update(ctx, g.ItemPath(index), p.ToRecord().Fields()); err != nil {
		return fmt.Errorf("failed to update item %d: %w", index, err)
	}
	return nil
}

// GetProduct returns the product at index, or false when it is absent or
// unreadable.
func (g *Gateway) GetProduct(ctx context.Context, index int) (*models.Product, bool) {
	p, err := g.product(ctx, index)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			g.logger.Error("failed to get product", "index", index, "error", err)
		}
		return nil, false
	}
	return p, true
}

func (g *Gateway) product(ctx context.Context, index int) (*models.Product, error) {
	if g.NoOp() || index < 1 {
		return nil, ErrNotFound
	}

	data, ok, err := g.backend.Get(ctx, g.ItemPath(index))
	if err != nil {
		return nil, err
	}
	if !ok || string(data) == "null" {
		return nil, ErrNotFound
	}

	var record models.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("invalid record at %d: %w", index, err)
	}
	return models.FromRecord(record)
}

// Entries returns every readable product in index order, 1..last.
func (g *Gateway) Entries(ctx context.Context) []Entry {
	last := g.GetLastItemIndex(ctx)

	var entries []Entry
	for index := 1; index <= last; index++ {
		if ctx.Err() != nil {
			break
		}
		if p, ok := g.GetProduct(ctx, index); ok {
			entries = append(entries, Entry{Index: index, Product: p})
		}
	}
	return entries
}

func (g *Gateway) GetAllProducts(ctx context.Context) []*models.Product {
	entries := g.Entries(ctx)
	products := make([]*models.Product, 0, len(entries))
	for _, e := range entries {
		products = append(products, e.Product)
	}
	return products
}

func (g *Gateway) Close() error {
	if g.NoOp() {
		return nil
	}
	return g.backend.Close()
}
