package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
)

const (
	chromaFragmentsCollection = "rag_fragments"
	chromaDocumentsCollection = "rag_documents"
)

// Metadata attribute keys. Fragment records carry their parent document id so
// deletes and scoped queries can filter server side; everything else the
// pipeline attaches rides along as one JSON attribute.
const (
	metaFragmentID = "fragment_id"
	metaDocumentID = "document_id"
	metaDocID      = "doc_id"
	metaFilename   = "filename"
	metaOrdinal    = "ordinal"
	metaCreatedAt  = "created_at"
	metaExtra      = "metadata_json"
)

// ChromaStore keeps fragments in one Chroma collection and document records
// in a second one. Chroma has no relational side, so document rows become
// plain records with a one-dimensional placeholder embedding; only the
// fragments collection is ever vector-queried.
type ChromaStore struct {
	client    chromago.Client
	fragments chromago.Collection
	documents chromago.Collection
	metric    Metric
}

// ChromaOptions configures NewChromaStore. An empty URL targets the client
// default (http://localhost:8000).
type ChromaOptions struct {
	URL    string
	Metric Metric
}

func NewChromaStore(ctx context.Context, opts ChromaOptions) (*ChromaStore, error) {
	var (
		client chromago.Client
		err    error
	)
	if opts.URL != "" {
		client, err = chromago.NewHTTPClient(chromago.WithBaseURL(opts.URL))
	} else {
		client, err = chromago.NewHTTPClient()
	}
	if err != nil {
		return nil, &models.StorageError{Op: "create chroma client", Err: err}
	}

	space := "cosine"
	if opts.Metric == MetricDot {
		space = "ip"
	}
	fragments, err := client.GetOrCreateCollection(ctx, chromaFragmentsCollection,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", space),
			),
		),
	)
	if err != nil {
		closeChromaClient(client)
		return nil, &models.StorageError{Op: "open fragments collection", Err: err}
	}
	documents, err := client.GetOrCreateCollection(ctx, chromaDocumentsCollection,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("description", "document records"),
			),
		),
	)
	if err != nil {
		closeChromaClient(client)
		return nil, &models.StorageError{Op: "open documents collection", Err: err}
	}

	log.Printf("STORE: chroma ready (metric=%s)", opts.Metric)
	return &ChromaStore{
		client:    client,
		fragments: fragments,
		documents: documents,
		metric:    opts.Metric,
	}, nil
}

func closeChromaClient(client chromago.Client) {
	if err := client.Close(); err != nil {
		log.Printf("STORE: failed to close chroma client: %v", err)
	}
}

func (s *ChromaStore) SaveDocument(ctx context.Context, doc models.Document) error {
	if err := s.documents.Delete(ctx,
		chromago.WithWhereDelete(chromago.EqString(metaDocID, doc.ID.String())),
	); err != nil {
		return &models.StorageError{Op: "clear document record", Err: err}
	}

	extra := []byte("{}")
	if doc.Metadata != nil {
		if b, err := json.Marshal(doc.Metadata); err == nil {
			extra = b
		}
	}
	err := s.documents.Add(ctx,
		chromago.WithIDs(chromago.DocumentID(doc.ID.String())),
		chromago.WithTexts(doc.Content),
		chromago.WithEmbeddings(embeddings.NewEmbeddingFromFloat32([]float32{1})),
		chromago.WithMetadatas(chromago.NewDocumentMetadata(
			chromago.NewStringAttribute(metaDocID, doc.ID.String()),
			chromago.NewStringAttribute(metaFilename, doc.Filename),
			chromago.NewStringAttribute(metaCreatedAt, doc.CreatedAt.Format(time.RFC3339Nano)),
			chromago.NewStringAttribute(metaExtra, string(extra)),
		)),
	)
	if err != nil {
		return &models.StorageError{Op: "save document", Err: err}
	}
	return nil
}

func (s *ChromaStore) UpsertFragments(ctx context.Context, fragments []models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	// Record ids are the fragment uuids, so one id-based delete clears every
	// record the Add below rewrites. Ids not present are ignored.
	if err := s.fragments.Delete(ctx,
		chromago.WithIDsDelete(fragmentRecordIDs(fragments)...),
	); err != nil {
		return &models.StorageError{Op: "upsert fragments", Err: err}
	}
	return s.addFragments(ctx, fragments)
}

func (s *ChromaStore) ReplaceFragments(ctx context.Context, doc models.Document, fragments []models.Fragment) error {
	if err := s.SaveDocument(ctx, doc); err != nil {
		return err
	}
	if err := s.fragments.Delete(ctx,
		chromago.WithWhereDelete(chromago.EqString(metaDocumentID, doc.ID.String())),
	); err != nil {
		return &models.StorageError{Op: "clear fragments", Err: err}
	}
	if len(fragments) == 0 {
		return nil
	}
	if err := s.addFragments(ctx, fragments); err != nil {
		// Leave no partial fragment set behind. Chroma has no transactions,
		// so undo by deleting whatever made it in.
		if derr := s.fragments.Delete(ctx,
			chromago.WithWhereDelete(chromago.EqString(metaDocumentID, doc.ID.String())),
		); derr != nil {
			log.Printf("STORE: cleanup after failed add for document %s: %v", doc.ID, derr)
		}
		return err
	}
	return nil
}

func (s *ChromaStore) addFragments(ctx context.Context, fragments []models.Fragment) error {
	texts := make([]string, len(fragments))
	embs := make([]embeddings.Embedding, len(fragments))
	metas := make([]chromago.DocumentMetadata, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
		embs[i] = embeddings.NewEmbeddingFromFloat32(f.Embedding)
		metas[i] = fragmentAttributes(f)
	}
	if err := s.fragments.Add(ctx,
		chromago.WithIDs(fragmentRecordIDs(fragments)...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	); err != nil {
		return &models.StorageError{Op: "add fragments", Err: err}
	}
	return nil
}

// fragmentRecordIDs maps fragments to their Chroma record ids. The record id
// is the fragment uuid in string form.
func fragmentRecordIDs(fragments []models.Fragment) []chromago.DocumentID {
	ids := make([]chromago.DocumentID, len(fragments))
	for i, f := range fragments {
		ids[i] = chromago.DocumentID(f.ID.String())
	}
	return ids
}

func fragmentAttributes(f models.Fragment) chromago.DocumentMetadata {
	extra := []byte("{}")
	if f.Metadata != nil {
		if b, err := json.Marshal(f.Metadata); err == nil {
			extra = b
		}
	}
	return chromago.NewDocumentMetadata(
		chromago.NewStringAttribute(metaFragmentID, f.ID.String()),
		chromago.NewStringAttribute(metaDocumentID, f.DocumentID.String()),
		chromago.NewIntAttribute(metaOrdinal, int64(f.Ordinal)),
		chromago.NewStringAttribute(metaExtra, string(extra)),
	)
}

func (s *ChromaStore) Query(ctx context.Context, embedding []float32, k int, opts QueryOptions) ([]models.ScoredFragment, error) {
	if k <= 0 {
		return []models.ScoredFragment{}, nil
	}
	total, err := s.fragments.Count(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "count fragments", Err: err}
	}
	if int(total) == 0 {
		return []models.ScoredFragment{}, nil
	}
	// Chroma rejects result counts beyond the index size.
	n := k
	if n > int(total) {
		n = int(total)
	}

	emb := embeddings.NewEmbeddingFromFloat32(embedding)
	var results chromago.QueryResult
	if opts.DocumentID != nil {
		results, err = s.fragments.Query(ctx,
			chromago.WithQueryEmbeddings(emb),
			chromago.WithNResults(n),
			chromago.WithWhereQuery(chromago.EqString(metaDocumentID, opts.DocumentID.String())),
		)
	} else {
		results, err = s.fragments.Query(ctx,
			chromago.WithQueryEmbeddings(emb),
			chromago.WithNResults(n),
		)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "query", Err: err}
	}

	out := []models.ScoredFragment{}
	idGroups := results.GetIDGroups()
	if len(idGroups) == 0 {
		return out, nil
	}
	docGroups := results.GetDocumentsGroups()
	metaGroups := results.GetMetadatasGroups()
	distGroups := results.GetDistancesGroups()
	for i := range idGroups[0] {
		id, err := uuid.Parse(string(idGroups[0][i]))
		if err != nil {
			continue
		}
		var sf models.ScoredFragment
		sf.ID = id
		if len(docGroups) > 0 && i < len(docGroups[0]) {
			sf.Text = docGroups[0][i].ContentString()
		}
		if len(distGroups) > 0 && i < len(distGroups[0]) {
			// Both cosine and ip spaces report distance as 1 - similarity.
			sf.Score = 1 - float64(distGroups[0][i])
		}
		if len(metaGroups) > 0 && i < len(metaGroups[0]) {
			applyFragmentMetadata(&sf.Fragment, metaGroups[0][i])
		}
		out = append(out, sf)
	}
	// Chroma already orders by distance; re-sort to pin the tie order to
	// ascending fragment id like the other backends.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func (s *ChromaStore) FragmentsByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Fragment, error) {
	res, err := s.fragments.Get(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "get fragments", Err: err}
	}
	ids := res.GetIDs()
	docs := res.GetDocuments()
	metas := res.GetMetadatas()

	var out []models.Fragment
	for i := range ids {
		id, err := uuid.Parse(string(ids[i]))
		if err != nil {
			continue
		}
		var f models.Fragment
		f.ID = id
		if i < len(docs) {
			f.Text = docs[i].ContentString()
		}
		if i < len(metas) {
			applyFragmentMetadata(&f, metas[i])
		}
		if f.DocumentID != documentID {
			continue
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		if _, err := s.GetDocument(ctx, documentID); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *ChromaStore) GetDocument(ctx context.Context, documentID uuid.UUID) (models.Document, error) {
	res, err := s.documents.Get(ctx)
	if err != nil {
		return models.Document{}, &models.StorageError{Op: "get documents", Err: err}
	}
	ids := res.GetIDs()
	docs := res.GetDocuments()
	metas := res.GetMetadatas()
	want := documentID.String()
	for i := range ids {
		if string(ids[i]) != want {
			continue
		}
		doc := models.Document{ID: documentID}
		if i < len(docs) {
			doc.Content = docs[i].ContentString()
		}
		if i < len(metas) {
			m := metadataToMap(metas[i])
			if v, ok := m[metaFilename].(string); ok {
				doc.Filename = v
			}
			if v, ok := m[metaCreatedAt].(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
					doc.CreatedAt = ts
				}
			}
			if v, ok := m[metaExtra].(string); ok && v != "" && v != "{}" {
				var em map[string]any
				if err := json.Unmarshal([]byte(v), &em); err == nil {
					doc.Metadata = em
				}
			}
		}
		return doc, nil
	}
	return models.Document{}, models.ErrDocumentNotFound
}

func (s *ChromaStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	fragments, err := s.FragmentsByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if err := s.fragments.Delete(ctx,
		chromago.WithWhereDelete(chromago.EqString(metaDocumentID, documentID.String())),
	); err != nil {
		return 0, &models.StorageError{Op: "delete fragments", Err: err}
	}
	if err := s.documents.Delete(ctx,
		chromago.WithWhereDelete(chromago.EqString(metaDocID, documentID.String())),
	); err != nil {
		return 0, &models.StorageError{Op: "delete document", Err: err}
	}
	return len(fragments), nil
}

func (s *ChromaStore) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	dres, err := s.documents.Get(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "get documents", Err: err}
	}
	fres, err := s.fragments.Get(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "get fragments", Err: err}
	}

	counts := map[string]int{}
	for _, meta := range fres.GetMetadatas() {
		m := metadataToMap(meta)
		if id, ok := m[metaDocumentID].(string); ok {
			counts[id]++
		}
	}

	infos := []models.DocumentInfo{}
	ids := dres.GetIDs()
	metas := dres.GetMetadatas()
	for i := range ids {
		id, err := uuid.Parse(string(ids[i]))
		if err != nil {
			continue
		}
		info := models.DocumentInfo{ID: id, FragmentCount: counts[string(ids[i])]}
		if i < len(metas) {
			m := metadataToMap(metas[i])
			if v, ok := m[metaFilename].(string); ok {
				info.Filename = v
			}
			if v, ok := m[metaCreatedAt].(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
					info.UploadedAt = ts
				}
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UploadedAt.Equal(infos[j].UploadedAt) {
			return infos[i].UploadedAt.After(infos[j].UploadedAt)
		}
		return infos[i].Filename < infos[j].Filename
	})
	return infos, nil
}

func (s *ChromaStore) Close() {
	closeChromaClient(s.client)
}

// applyFragmentMetadata restores the fragment fields carried as Chroma
// attributes. Attribute values come back through a JSON round trip, so
// numbers arrive as float64.
func applyFragmentMetadata(f *models.Fragment, meta chromago.DocumentMetadata) {
	m := metadataToMap(meta)
	if raw, ok := m[metaDocumentID].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			f.DocumentID = id
		}
	}
	if raw, ok := m[metaOrdinal].(float64); ok {
		f.Ordinal = int(raw)
	}
	if raw, ok := m[metaExtra].(string); ok && raw != "" && raw != "{}" {
		var em map[string]any
		if err := json.Unmarshal([]byte(raw), &em); err == nil {
			f.Metadata = em
		}
	}
}

// metadataToMap converts DocumentMetadata to a plain map. The type exposes no
// value accessor, so marshal it to JSON and back.
func metadataToMap(meta chromago.DocumentMetadata) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	jsonBytes, err := json.Marshal(meta)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(jsonBytes, &m); err != nil {
		return map[string]any{}
	}
	return m
}
