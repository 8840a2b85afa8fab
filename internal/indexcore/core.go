// Package indexcore implements the low-level indexer core the mail
// indexer drives: attribute-text splitting into postings, posting
// encryption, batched persistence, the single-slot write gate between
// backfill and the event applier, and the status counters.
//
// Storage is a bleve index used purely as an encrypted-document KV
// store: every field is mapped as a "keyword" (no analysis), since
// tokens arrive already split and sealed and must never be re-analyzed
// as plaintext.
package indexcore

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/northbound-dev/mailindex/internal/cryptoindex"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/logging"
)

var wordSplit = regexp.MustCompile(`[\pL\pN]+`)

const (
	fieldToken    = "token"
	fieldElement  = "elementId"
	fieldInstance = "instanceKey"
	fieldAttr     = "attribute"
	fieldPosition = "position"
)

// Core is the bleve-backed domain.IndexerCore implementation.
type Core struct {
	index  bleve.Index
	cipher *cryptoindex.KeyCipher
	log    *logrus.Logger

	writeMu sync.Mutex // serializes WriteIndexUpdate, the single-writer rule
	gate    sync.Mutex // the backfill/applier write gate: held while Queue()d

	mailCount         int64
	indexingTimeNS    int64
	downloadingTimeNS int64

	mailCounter metric.Int64Counter
}

// Option configures optional instrumentation on a Core.
type Option func(*Core)

// WithMeter wires an otel meter for the indexer's counters. Omitted in
// tests, where instrumentation is not asserted on.
func WithMeter(meter metric.Meter) Option {
	return func(c *Core) {
		counter, err := meter.Int64Counter("mailindex.postings.indexed",
			metric.WithDescription("postings encrypted into index updates"))
		if err == nil {
			c.mailCounter = counter
		}
	}
}

// Open creates or opens a bleve index at path. An empty path opens an
// in-memory index, used by tests and ephemeral runs.
func Open(path string, cipher *cryptoindex.KeyCipher, opts ...Option) (*Core, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("could not build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("could not create directory for index: %w", mkErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not open index core: %w", err)
	}

	c := &Core{index: idx, cipher: cipher, log: logging.For(logging.IndexCore)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldToken, keywordField)
	doc.AddFieldMappingsAt(fieldElement, keywordField)
	doc.AddFieldMappingsAt(fieldInstance, keywordField)
	doc.AddFieldMappingsAt(fieldAttr, keywordField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = keyword.Name
	return m, nil
}

// posting is the on-disk shape of one indexed posting.
type posting struct {
	Token       string `json:"token"`
	ElementID   string `json:"elementId"`
	InstanceKey string `json:"instanceKey"`
	Attribute   string `json:"attribute"`
	Position    int    `json:"position"`
}

// Close releases the underlying index handle.
func (c *Core) Close() error {
	return c.index.Close()
}

// CreateIndexEntries splits value into words and returns one
// pre-encryption posting per word, tagged with schema and the plain
// mailInstanceKey. Encryption happens in EncryptEntries.
func (c *Core) CreateIndexEntries(schema domain.AttributeTag, mailInstanceKey, value string) []domain.Posting {
	words := wordSplit.FindAllString(value, -1)
	entries := make([]domain.Posting, 0, len(words))
	for i, w := range words {
		entries = append(entries, domain.Posting{
			EncToken:    []byte(w),
			InstanceKey: mailInstanceKey,
			Attribute:   schema,
			Position:    i,
		})
	}
	return entries
}

// EncryptEntries encrypts each entry's plaintext token and the owning
// element ID, then appends the sealed postings to update.
func (c *Core) EncryptEntries(ctx context.Context, entityID domain.GeneratedID, ownerGroup string, entries []domain.Posting, update *domain.IndexUpdate) error {
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { atomic.AddInt64(&c.indexingTimeNS, time.Since(start).Nanoseconds()) }()

	instanceKeyB64, err := c.cipher.EncryptIndexKeyBase64(entries[0].InstanceKey)
	if err != nil {
		return fmt.Errorf("could not encrypt instance key: %w", err)
	}

	encElementID, err := c.cipher.EncryptElementID(string(entityID))
	if err != nil {
		return fmt.Errorf("could not encrypt element id: %w", err)
	}

	sealed := make([]domain.Posting, 0, len(entries))
	for _, e := range entries {
		encToken, err := c.cipher.EncryptToken(string(e.EncToken))
		if err != nil {
			return fmt.Errorf("could not encrypt token: %w", err)
		}
		sealed = append(sealed, domain.Posting{
			EncToken:     encToken,
			EncElementID: encElementID,
			InstanceKey:  instanceKeyB64,
			Attribute:    e.Attribute,
			Position:     e.Position,
		})
	}

	update.AddPostings(sealed...)
	atomic.AddInt64(&c.mailCount, 1)
	if c.mailCounter != nil {
		c.mailCounter.Add(ctx, int64(len(sealed)))
	}
	return nil
}

// ProcessDeleted marks one instance's postings for removal in the
// in-flight update. The instance's ElementData lives in the progress
// store and is removed there by the caller.
func (c *Core) ProcessDeleted(encInstanceKey string, update *domain.IndexUpdate) {
	update.AddDeletion(domain.Deletion{EncInstanceKey: encInstanceKey})
}

// WriteIndexUpdate atomically persists one update's postings and
// deletions as a single bleve batch. Moves do not change the index.
func (c *Core) WriteIndexUpdate(ctx context.Context, update *domain.IndexUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	start := time.Now()
	defer func() { atomic.AddInt64(&c.indexingTimeNS, time.Since(start).Nanoseconds()) }()

	batch := c.index.NewBatch()

	for _, p := range update.Postings {
		id := postingDocID(p)
		doc := posting{
			Token:       base64.StdEncoding.EncodeToString(p.EncToken),
			ElementID:   base64.StdEncoding.EncodeToString(p.EncElementID),
			InstanceKey: p.InstanceKey,
			Attribute:   string(p.Attribute),
			Position:    p.Position,
		}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("could not batch posting: %w", err)
		}
	}

	for _, d := range update.Deletions {
		if err := c.deleteByInstance(batch, d.EncInstanceKey); err != nil {
			return err
		}
	}

	// Moves leave postings untouched; the owning list is tracked by the
	// progress store's ElementData, not by the posting documents.
	_ = update.Moves

	if err := c.index.Batch(batch); err != nil {
		return fmt.Errorf("could not commit index batch: %w", err)
	}

	return nil
}

func postingDocID(p domain.Posting) string {
	return base64.StdEncoding.EncodeToString(p.EncToken) + ":" +
		base64.StdEncoding.EncodeToString(p.EncElementID) + ":" +
		strconv.Itoa(p.Position)
}

func (c *Core) deleteByInstance(batch *bleve.Batch, encInstanceKey string) error {
	query := bleve.NewTermQuery(encInstanceKey)
	query.SetField(fieldInstance)
	req := bleve.NewSearchRequest(query)
	req.Size = 10000

	result, err := c.index.Search(req)
	if err != nil {
		return fmt.Errorf("could not search postings for deletion: %w", err)
	}
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	return nil
}

// Queue closes the write gate, giving the caller (a running backfill)
// exclusive write access until ProcessNext is called.
func (c *Core) Queue() {
	c.gate.Lock()
}

// ProcessNext reopens the write gate, letting one waiting event-applier
// drain proceed.
func (c *Core) ProcessNext() {
	c.gate.Unlock()
}

// IndexingSupported reports whether this core can accept writes. Bleve
// is always available once Open succeeds.
func (c *Core) IndexingSupported() bool {
	return true
}

// PrintStatus logs the running counters.
func (c *Core) PrintStatus() {
	c.log.WithFields(logrus.Fields{
		"mailCount":      atomic.LoadInt64(&c.mailCount),
		"indexingTimeMs": atomic.LoadInt64(&c.indexingTimeNS) / int64(time.Millisecond),
		"downloadTimeMs": atomic.LoadInt64(&c.downloadingTimeNS) / int64(time.Millisecond),
	}).Info("indexer status")
}

// RecordDownloadDuration adds d to the downloading-time counter that
// PrintStatus reports. The fetchers in this module do not call it.
func (c *Core) RecordDownloadDuration(d time.Duration) {
	atomic.AddInt64(&c.downloadingTimeNS, d.Nanoseconds())
}
