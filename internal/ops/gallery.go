package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/gallery"
	"github.com/hpungsan/atelier/internal/generate"
)

// GalleryEntry is a gallery item with its position (0 = newest).
type GalleryEntry struct {
	Index     int    `json:"index"`
	ModelName string `json:"model_name"`
	gallery.Item
}

// ListInput contains parameters for the ListGallery operation.
type ListInput struct {
	Limit  int // default: 20, max: 50
	Offset int // default: 0
}

// ListOutput contains the result of the ListGallery operation.
type ListOutput struct {
	Items      []GalleryEntry `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Sort       string         `json:"sort"`
}

// ListGallery returns one page of the gallery, newest first.
func ListGallery(s *Studio, input ListInput) *ListOutput {
	limit, offset := clampPage(input.Limit, input.Offset)
	items := s.Gallery.Items()
	total := len(items)

	entries := []GalleryEntry{}
	for i := offset; i < total && len(entries) < limit; i++ {
		entries = append(entries, entry(i, items[i]))
	}

	return &ListOutput{
		Items: entries,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(entries) < total,
			Total:   total,
		},
		Sort: "timestamp_desc",
	}
}

// GalleryItem returns the item at index.
func GalleryItem(s *Studio, index int) (*GalleryEntry, error) {
	item, ok := s.Gallery.Get(index)
	if !ok {
		return nil, errors.NewNotFound(fmt.Sprintf("gallery item %d", index))
	}
	e := entry(index, item)
	return &e, nil
}

// ClearOutput contains the result of the ClearGallery operation.
type ClearOutput struct {
	Cleared   bool  `json:"cleared"`
	Removed   int   `json:"removed"`
	ClearedAt int64 `json:"cleared_at,omitempty"`
}

// ClearGallery empties the gallery. Clearing an empty gallery is a no-op.
func ClearGallery(ctx context.Context, s *Studio) *ClearOutput {
	n := s.Gallery.Cleared(ctx)
	if n == 0 {
		return &ClearOutput{}
	}
	s.logger().Info("gallery cleared", "removed", n)
	return &ClearOutput{Cleared: true, Removed: n, ClearedAt: time.Now().Unix()}
}

func entry(index int, item gallery.Item) GalleryEntry {
	return GalleryEntry{Index: index, ModelName: generate.ModelName(item.Model), Item: item}
}
