package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/storage"
)

// Metadata keys the watcher writes on documents it manages.
const (
	metaFileHash   = "file_hash"
	metaSourcePath = "source_path"
)

// WatcherService keeps a drop directory in sync with the store. Files are
// ingested on startup and re-ingested when their content changes; removing
// a file removes its document. Documents without source_path metadata were
// uploaded through the API and are never deleted by a scan.
type WatcherService struct {
	pipeline RAGService
	store    storage.Store
	dir      string
}

func NewWatcherService(pipeline RAGService, store storage.Store, dir string) *WatcherService {
	return &WatcherService{pipeline: pipeline, store: store, dir: filepath.Clean(dir)}
}

// Run scans the directory once, then watches it until ctx is cancelled.
func (s *WatcherService) Run(ctx context.Context) {
	s.ScanDirectory(ctx)
	s.watch(ctx)
}

// ScanDirectory syncs the store with the directory's current contents:
// new and changed files are ingested, vanished files are removed.
func (s *WatcherService) ScanDirectory(ctx context.Context) {
	log.Printf("INDEXER: starting directory scan for: %s", s.dir)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("INDEXER ERROR: could not read directory %s: %v", s.dir, err)
		return
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !watchableFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		seen[entry.Name()] = true
		if err := s.indexFile(ctx, path); err != nil {
			log.Printf("INDEXER ERROR: failed to index %s: %v", path, err)
		}
	}

	s.removeVanished(ctx, seen)
	log.Println("INDEXER: directory scan finished.")
}

func (s *WatcherService) watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WATCHER ERROR: failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watchableFile(event.Name) {
					continue
				}
				// Editors often save through a temp file plus rename, which
				// fires several events per save. Create and Write are handled
				// the same and the hash check drops the duplicates.
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if err := s.indexFile(ctx, event.Name); err != nil {
						log.Printf("WATCHER ERROR: failed to process %s: %v", event.Name, err)
					}
				} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					s.removeFile(ctx, event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WATCHER ERROR: %v", err)
			case <-ctx.Done():
				log.Println("WATCHER: context cancelled, shutting down watcher.")
				return
			}
		}
	}()

	log.Printf("WATCHER: watching directory: %s", s.dir)
	if err := watcher.Add(s.dir); err != nil {
		log.Printf("WATCHER ERROR: failed to add path to watcher: %v", err)
	}

	<-ctx.Done()
}

// indexFile ingests one file unless the stored document already carries the
// same content hash.
func (s *WatcherService) indexFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	hash := contentHash(content)
	filename := filepath.Base(path)

	prev, err := s.store.GetDocument(ctx, models.DocumentIDForFilename(filename))
	if err == nil {
		if prevHash, ok := prev.Metadata[metaFileHash].(string); ok && prevHash == hash {
			return nil
		}
	} else if !errors.Is(err, models.ErrDocumentNotFound) {
		log.Printf("WATCHER WARN: could not check previous version of %s: %v", path, err)
	}

	result, err := s.pipeline.ProcessAndStoreDocument(ctx, filename, content, map[string]any{
		metaFileHash:   hash,
		metaSourcePath: path,
	})
	if err != nil {
		return err
	}
	log.Printf("WATCHER: indexed %s (%d fragments)", path, result.FragmentCount)
	return nil
}

func (s *WatcherService) removeFile(ctx context.Context, path string) {
	docID := models.DocumentIDForFilename(filepath.Base(path))
	removed, err := s.pipeline.DeleteDocument(ctx, docID)
	if errors.Is(err, models.ErrDocumentNotFound) {
		return
	}
	if err != nil {
		log.Printf("WATCHER ERROR: failed to delete records for %s: %v", path, err)
		return
	}
	log.Printf("WATCHER: removed %s from index (%d fragments)", path, removed)
}

// removeVanished deletes watcher-managed documents whose backing file is no
// longer present in the directory.
func (s *WatcherService) removeVanished(ctx context.Context, seen map[string]bool) {
	infos, err := s.store.ListDocuments(ctx)
	if err != nil {
		log.Printf("INDEXER ERROR: could not list documents: %v", err)
		return
	}
	for _, info := range infos {
		if seen[info.Filename] {
			continue
		}
		doc, err := s.store.GetDocument(ctx, info.ID)
		if err != nil {
			continue
		}
		path, ok := doc.Metadata[metaSourcePath].(string)
		if !ok || filepath.Dir(path) != s.dir {
			continue
		}
		log.Printf("INDEXER: file deleted: %s. Removing document %s", path, info.ID)
		if _, err := s.pipeline.DeleteDocument(ctx, info.ID); err != nil {
			log.Printf("INDEXER ERROR: failed to delete document for %s: %v", path, err)
		}
	}
}

func watchableFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".pdf":
		return true
	default:
		return false
	}
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
