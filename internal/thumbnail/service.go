package thumbnail

import (
	"context"
	"encoding/json"
	"fmt"
)

// ObjectStore is where rendered thumbnails are uploaded.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Service renders scene thumbnails with headless Chrome and stores the
// PNGs in an object store.
type Service struct {
	blobs ObjectStore
}

func NewService(blobs ObjectStore) *Service {
	return &Service{blobs: blobs}
}

// Generate renders a PNG thumbnail for the scene and uploads it. Returns
// the object key to persist on the scene row.
func (s *Service) Generate(ctx context.Context, sceneID string, elementsJSON json.RawMessage) (string, error) {
	var elements []map[string]any
	if len(elementsJSON) > 0 {
		if err := json.Unmarshal(elementsJSON, &elements); err != nil {
			return "", fmt.Errorf("decode elements: %w", err)
		}
	}

	png, err := capturePNG(sceneHTML(elements))
	if err != nil {
		return "", err
	}

	key := "thumbnails/" + sceneID + ".png"
	if err := s.blobs.Put(ctx, key, png, "image/png"); err != nil {
		return "", err
	}
	return key, nil
}

// Fetch returns a previously rendered thumbnail by key.
func (s *Service) Fetch(ctx context.Context, key string) ([]byte, error) {
	return s.blobs.Get(ctx, key)
}

// Discard removes a stored thumbnail, typically when its scene is deleted.
func (s *Service) Discard(ctx context.Context, key string) error {
	return s.blobs.Remove(ctx, key)
}
