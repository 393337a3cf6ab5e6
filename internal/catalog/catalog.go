// Package catalog provides the per-category view of listed items.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gearshare/internal/apperr"
	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/models"
)

// Category is a configured item category. Categories differ only in which
// attributes describe an item in notifications and where pickup happens.
type Category struct {
	name            string
	title           string
	describeFields  []string
	pickupAttribute string
	items           domain.Directory
}

func NewCategory(cfg config.CategoryConfig, items domain.Directory) *Category {
	return &Category{
		name:            cfg.Name,
		title:           cfg.Title,
		describeFields:  cfg.DescribeFields,
		pickupAttribute: cfg.PickupAttribute,
		items:           items,
	}
}

func (c *Category) Name() string { return c.name }

// ReadSnapshot loads an item and checks it belongs to this category.
func (c *Category) ReadSnapshot(ctx context.Context, itemID int64) (*models.ItemSnapshot, error) {
	item, err := c.items.GetItemSnapshot(ctx, itemID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFoundWithID("item", itemID)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load item", err)
	}
	if item.Category != c.name {
		return nil, apperr.NotFoundWithID("item", itemID).WithDetails(map[string]any{"category": c.name})
	}
	return item, nil
}

// DescribeForNotification returns the template fields for an item.
func (c *Category) DescribeForNotification(item *models.ItemSnapshot) map[string]any {
	out := map[string]any{
		"item_id":       item.ID,
		"item_name":     item.Name,
		"category":      c.name,
		"category_name": c.title,
	}
	for _, f := range c.describeFields {
		if v, ok := item.Attributes[f]; ok {
			out[f] = v
		}
	}
	return out
}

func (c *Category) PickupLocation(item *models.ItemSnapshot) string {
	if c.pickupAttribute != "" {
		if v := item.Attributes[c.pickupAttribute]; v != "" {
			return v
		}
	}
	return item.PickupLocation
}

// Registry resolves categories by name.
type Registry struct {
	categories map[string]domain.ItemCategory
}

func NewRegistry(cfgs []config.CategoryConfig, items domain.Directory) (*Registry, error) {
	r := &Registry{categories: make(map[string]domain.ItemCategory, len(cfgs))}
	for _, cfg := range cfgs {
		if _, dup := r.categories[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate category %q", cfg.Name)
		}
		r.categories[cfg.Name] = NewCategory(cfg, items)
	}
	return r, nil
}

func (r *Registry) Category(name string) (domain.ItemCategory, bool) {
	c, ok := r.categories[name]
	return c, ok
}

// Names returns the configured category names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.categories))
	for n := range r.categories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
