package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/storage"
)

func seedRetrievalStore(t *testing.T, store *storage.MemoryStore, filename string, embeddings ...[]float32) models.Document {
	t.Helper()
	doc := models.Document{
		ID:        models.DocumentIDForFilename(filename),
		Filename:  filename,
		CreatedAt: time.Now(),
	}
	frags := make([]models.Fragment, len(embeddings))
	for i, emb := range embeddings {
		frags[i] = models.Fragment{
			ID:         models.FragmentIDFor(doc.ID, i),
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       "fragment",
			Embedding:  emb,
		}
	}
	require.NoError(t, store.ReplaceFragments(context.Background(), doc, frags))
	return doc
}

func TestRetrieveFiltersBelowThreshold(t *testing.T) {
	store := storage.NewMemoryStore(storage.MetricCosine)
	doc := seedRetrievalStore(t, store, "a.txt",
		[]float32{1, 0},     // similarity 1.0
		[]float32{0.8, 0.6}, // similarity 0.8
		[]float32{0.6, 0.8}, // similarity 0.6
	)
	svc := NewRetrievalService(&fakeEmbedder{def: []float32{1, 0}}, store, 5, 0.7)

	got, err := svc.Retrieve(context.Background(), "what does the report say", 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.FragmentIDFor(doc.ID, 0), got[0].ID)
	assert.Equal(t, models.FragmentIDFor(doc.ID, 1), got[1].ID)
	assert.GreaterOrEqual(t, got[1].Score, 0.7)
}

func TestRetrieveDefaultsK(t *testing.T) {
	store := storage.NewMemoryStore(storage.MetricCosine)
	seedRetrievalStore(t, store, "a.txt",
		[]float32{1, 0}, []float32{1, 0}, []float32{1, 0}, []float32{1, 0},
		[]float32{1, 0}, []float32{1, 0}, []float32{1, 0},
	)
	svc := NewRetrievalService(&fakeEmbedder{def: []float32{1, 0}}, store, 5, 0.7)

	got, err := svc.Retrieve(context.Background(), "question", 0, nil)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = svc.Retrieve(context.Background(), "question", 2, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrieveScopesToDocument(t *testing.T) {
	store := storage.NewMemoryStore(storage.MetricCosine)
	seedRetrievalStore(t, store, "a.txt", []float32{1, 0})
	docB := seedRetrievalStore(t, store, "b.txt", []float32{1, 0})
	svc := NewRetrievalService(&fakeEmbedder{def: []float32{1, 0}}, store, 5, 0.7)

	got, err := svc.Retrieve(context.Background(), "question", 0, &docB.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, docB.ID, got[0].DocumentID)
}

func TestRetrieveNothingRelevant(t *testing.T) {
	store := storage.NewMemoryStore(storage.MetricCosine)
	seedRetrievalStore(t, store, "a.txt", []float32{0, 1})
	svc := NewRetrievalService(&fakeEmbedder{def: []float32{1, 0}}, store, 5, 0.7)

	got, err := svc.Retrieve(context.Background(), "question", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveValidatesQuestion(t *testing.T) {
	store := storage.NewMemoryStore(storage.MetricCosine)
	svc := NewRetrievalService(&fakeEmbedder{}, store, 5, 0.7)

	_, err := svc.Retrieve(context.Background(), "   ", 0, nil)
	var vErr *models.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestRetrievePropagatesEmbedderFailure(t *testing.T) {
	store := storage.NewMemoryStore(storage.MetricCosine)
	seedRetrievalStore(t, store, "a.txt", []float32{1, 0})
	svc := NewRetrievalService(&fakeEmbedder{err: models.ErrProviderUnavailable}, store, 5, 0.7)

	_, err := svc.Retrieve(context.Background(), "question", 0, nil)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}
