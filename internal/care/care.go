// Package care holds the plant-care knowledge base: name resolution with
// fuzzy fallback and relevance-ranked free-text search.
package care

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrNotFound reports that no record resolves for a species name. It is
	// a typed result, not a fault: callers can distinguish an absent
	// species from a system error.
	ErrNotFound = errors.New("care record not found")
	// ErrEmptyQuery reports a blank search term.
	ErrEmptyQuery = errors.New("search query is empty")
)

// Matching thresholds and limits.
const (
	similarityThreshold = 0.8 // Jaccard, strictly greater-than
	maxSearchResults    = 10
)

// ImageRef is a reference to a photo of the species.
type ImageRef struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text"`
	Title   string `json:"title"`
}

// Record is one species' care entry, keyed by case-insensitive name.
type Record struct {
	Name   string            `json:"name"`
	Care   map[string]string `json:"care"`
	URL    string            `json:"url"`
	Images []ImageRef        `json:"images"`
}

type MatchType string

const (
	MatchName     MatchType = "name"
	MatchCareText MatchType = "care_text"
)

// SearchResult is one scored hit from Search.
type SearchResult struct {
	Name           string    `json:"name"`
	MatchType      MatchType `json:"match_type"`
	RelevanceScore float64   `json:"relevance_score"`
}

// Store serves an immutable snapshot of the knowledge base. Load replaces
// the whole table atomically, so concurrent readers never observe partial
// mutation and reads take no locks.
type Store struct {
	log   *zap.Logger
	path  string
	table atomic.Pointer[[]Record]
}

func NewStore(path string, log *zap.Logger) *Store {
	return &Store{log: log, path: path}
}

// Load reads the knowledge-base JSON and swaps it in wholesale. On failure
// the previous snapshot stays in place.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read care data: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parse care data: %w", err)
	}

	s.table.Store(&records)
	s.log.Info("care data loaded",
		zap.String("path", s.path),
		zap.Int("records", len(records)))
	return nil
}

func (s *Store) records() []Record {
	table := s.table.Load()
	if table == nil {
		return nil
	}
	return *table
}

// List returns every record in table order.
func (s *Store) List() []Record {
	return s.records()
}

// Len returns the number of loaded records.
func (s *Store) Len() int {
	return len(s.records())
}

// Get resolves a species name to its care record. Stages are tried in
// priority order, first hit wins:
//  1. case-insensitive exact equality
//  2. case-insensitive substring match in either direction
//  3. word-set Jaccard similarity strictly above 0.8
func (s *Store) Get(name string) (*Record, error) {
	query := strings.ToLower(strings.TrimSpace(name))
	records := s.records()

	for i := range records {
		if strings.ToLower(records[i].Name) == query {
			return &records[i], nil
		}
	}

	for i := range records {
		stored := strings.ToLower(records[i].Name)
		if strings.Contains(stored, query) || strings.Contains(query, stored) {
			return &records[i], nil
		}
	}

	for i := range records {
		if jaccard(query, strings.ToLower(records[i].Name)) > similarityThreshold {
			return &records[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// jaccard computes the Jaccard index over the word sets of two names.
func jaccard(a, b string) float64 {
	aWords := strings.Fields(a)
	bWords := strings.Fields(b)
	if len(aWords) == 0 || len(bWords) == 0 {
		return 0
	}

	union := make(map[string]bool, len(aWords)+len(bWords))
	aSet := make(map[string]bool, len(aWords))
	for _, w := range aWords {
		aSet[w] = true
		union[w] = true
	}

	intersection := 0
	bSeen := make(map[string]bool, len(bWords))
	for _, w := range bWords {
		if bSeen[w] {
			continue
		}
		bSeen[w] = true
		union[w] = true
		if aSet[w] {
			intersection++
		}
	}

	return float64(intersection) / float64(len(union))
}

// Search scans all records for the query. A hit in the record name scores
// as a name match; otherwise a hit in the concatenated care text scores as
// a care-text match. Results are deduplicated by name (first occurrence
// wins), sorted by descending relevance, and truncated to 10.
func (s *Store) Search(query string) ([]SearchResult, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, ErrEmptyQuery
	}

	records := s.records()
	var results []SearchResult
	seen := make(map[string]bool)

	// Name matches are generated before any care-text match so that a name
	// match wins both deduplication and relevance ties.
	for _, record := range records {
		name := strings.ToLower(record.Name)
		if !seen[record.Name] && strings.Contains(name, q) {
			results = append(results, SearchResult{
				Name:           record.Name,
				MatchType:      MatchName,
				RelevanceScore: relevance(name, q),
			})
			seen[record.Name] = true
		}
	}

	for _, record := range records {
		if seen[record.Name] {
			continue
		}
		text := careText(record)
		if strings.Contains(text, q) {
			results = append(results, SearchResult{
				Name:           record.Name,
				MatchType:      MatchCareText,
				RelevanceScore: relevance(text, q),
			})
			seen[record.Name] = true
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})

	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}
	return results, nil
}

// careText concatenates all care-category text, lowercased. Categories are
// joined in sorted key order so scoring is deterministic.
func careText(record Record) string {
	keys := make([]string, 0, len(record.Care))
	for k := range record.Care {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(record.Care[k])
	}
	return strings.ToLower(sb.String())
}

// relevance scores one hit: occurrence count, boosted when the text starts
// with the query, weighted by how much of the text the query covers.
func relevance(text, query string) float64 {
	count := float64(strings.Count(text, query))

	position := 0.5
	if strings.HasPrefix(text, query) {
		position = 1.0
	}

	coverage := 1.0 + float64(len(query))/float64(len(text))
	return count * position * coverage
}
