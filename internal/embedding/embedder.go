package embedding

import "context"

// Embedder converts free text into a numeric vector representation.
// Callers must not pass empty text.
type Embedder interface {
	Name() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}
