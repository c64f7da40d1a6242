// Copyright 2025 The Clarvis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notes implements the notes and lists agent backed by SQLite.
package notes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// NoteType classifies a note.
type NoteType string

const (
	TypeList     NoteType = "list"
	TypeReminder NoteType = "reminder"
	TypeGeneral  NoteType = "general"
)

// ErrNotFound is returned when no note matches a name.
var ErrNotFound = errors.New("note not found")

// ErrNotAList is returned for list operations on non-list notes.
var ErrNotAList = errors.New("note is not a list")

// Note is one stored note or list.
type Note struct {
	ID        string
	Title     string
	Type      NoteType
	Items     []string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Storage persists notes in a SQLite database. Safe for concurrent use; the
// sql.DB pool serializes writers.
type Storage struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	note_type  TEXT NOT NULL,
	items      TEXT NOT NULL DEFAULT '[]',
	content    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// OpenStorage opens (and migrates) the notes database at path. Use
// ":memory:" for tests.
func OpenStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open notes database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate notes database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Slugify converts a title to a stable note id: lowercase, alphanumerics and
// hyphens only.
func Slugify(text string) string {
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = regexp.MustCompile(`[^a-z0-9\s-]`).ReplaceAllString(slug, "")
	slug = regexp.MustCompile(`\s+`).ReplaceAllString(slug, "-")
	slug = regexp.MustCompile(`-+`).ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// CreateNote inserts a note. Creating a note whose slug already exists
// returns the existing note unchanged.
func (s *Storage) CreateNote(title string, noteType NoteType, content string, items []string) (*Note, error) {
	id := Slugify(title)

	if existing, err := s.GetNoteByID(id); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	note := &Note{
		ID:        id,
		Title:     title,
		Type:      noteType,
		Items:     items,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if note.Items == nil {
		note.Items = []string{}
	}

	if err := s.save(note, true); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Storage) save(note *Note, insert bool) error {
	itemsJSON, err := json.Marshal(note.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	if insert {
		_, err = s.db.Exec(
			`INSERT INTO notes (id, title, note_type, items, content, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			note.ID, note.Title, string(note.Type), string(itemsJSON), note.Content,
			note.CreatedAt, note.UpdatedAt,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE notes SET title = ?, note_type = ?, items = ?, content = ?, updated_at = ?
			 WHERE id = ?`,
			note.Title, string(note.Type), string(itemsJSON), note.Content, note.UpdatedAt,
			note.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save note %s: %w", note.ID, err)
	}
	return nil
}

// GetNoteByID fetches a note by exact id.
func (s *Storage) GetNoteByID(id string) (*Note, error) {
	row := s.db.QueryRow(
		`SELECT id, title, note_type, items, content, created_at, updated_at
		 FROM notes WHERE id = ?`, id)
	return scanNote(row)
}

func scanNote(row *sql.Row) (*Note, error) {
	var note Note
	var noteType, itemsJSON string
	err := row.Scan(&note.ID, &note.Title, &noteType, &itemsJSON, &note.Content,
		&note.CreatedAt, &note.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read note: %w", err)
	}
	note.Type = NoteType(noteType)
	if err := json.Unmarshal([]byte(itemsJSON), &note.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items for %s: %w", note.ID, err)
	}
	return &note, nil
}

// GetNote finds a note by name with fuzzy matching: exact slug first, then
// title containment, then best word overlap.
func (s *Storage) GetNote(query string) (*Note, error) {
	if note, err := s.GetNoteByID(Slugify(query)); err == nil {
		return note, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	all, err := s.ListNotes("")
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))

	for _, n := range all {
		titleLower := strings.ToLower(n.Title)
		if strings.Contains(titleLower, queryLower) || strings.Contains(queryLower, titleLower) {
			return n, nil
		}
	}

	queryWords := wordSet(queryLower)
	var best *Note
	bestScore := 0
	for _, n := range all {
		score := 0
		for w := range wordSet(strings.ToLower(n.Title)) {
			if queryWords[w] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = n
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

// ListNotes returns notes newest-first, optionally filtered by type.
func (s *Storage) ListNotes(noteType NoteType) ([]*Note, error) {
	query := `SELECT id, title, note_type, items, content, created_at, updated_at
	          FROM notes ORDER BY updated_at DESC`
	args := []any{}
	if noteType != "" {
		query = `SELECT id, title, note_type, items, content, created_at, updated_at
		         FROM notes WHERE note_type = ? ORDER BY updated_at DESC`
		args = append(args, string(noteType))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		var note Note
		var nt, itemsJSON string
		if err := rows.Scan(&note.ID, &note.Title, &nt, &itemsJSON, &note.Content,
			&note.CreatedAt, &note.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to read note row: %w", err)
		}
		note.Type = NoteType(nt)
		if err := json.Unmarshal([]byte(itemsJSON), &note.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items for %s: %w", note.ID, err)
		}
		notes = append(notes, &note)
	}
	return notes, rows.Err()
}

// AddToList appends items to a list, creating it when missing. Duplicate
// items (case-insensitive) are skipped; the returned slice holds the items
// actually added.
func (s *Storage) AddToList(noteName string, items []string) (*Note, []string, error) {
	note, err := s.GetNote(noteName)
	if errors.Is(err, ErrNotFound) {
		note, err = s.CreateNote(titleCase(noteName), TypeList, "", nil)
	}
	if err != nil {
		return nil, nil, err
	}

	if note.Type != TypeList {
		note.Type = TypeList
		note.Items = []string{}
	}

	existing := map[string]bool{}
	for _, item := range note.Items {
		existing[strings.ToLower(item)] = true
	}

	var added []string
	for _, item := range items {
		key := strings.ToLower(item)
		if !existing[key] {
			note.Items = append(note.Items, item)
			existing[key] = true
			added = append(added, item)
		}
	}

	note.UpdatedAt = time.Now()
	if err := s.save(note, false); err != nil {
		return nil, nil, err
	}
	return note, added, nil
}

// RemoveFromList deletes items from a list (case-insensitive). The returned
// slice holds the items actually removed.
func (s *Storage) RemoveFromList(noteName string, items []string) (*Note, []string, error) {
	note, err := s.GetNote(noteName)
	if err != nil {
		return nil, nil, err
	}
	if note.Type != TypeList {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotAList, note.Title)
	}

	toRemove := map[string]bool{}
	for _, item := range items {
		toRemove[strings.ToLower(item)] = true
	}

	var kept, removed []string
	for _, item := range note.Items {
		if toRemove[strings.ToLower(item)] {
			removed = append(removed, item)
		} else {
			kept = append(kept, item)
		}
	}
	note.Items = kept
	if note.Items == nil {
		note.Items = []string{}
	}

	note.UpdatedAt = time.Now()
	if err := s.save(note, false); err != nil {
		return nil, nil, err
	}
	return note, removed, nil
}

// ClearList removes every item from a list.
func (s *Storage) ClearList(noteName string) (*Note, error) {
	note, err := s.GetNote(noteName)
	if err != nil {
		return nil, err
	}
	if note.Type != TypeList {
		return nil, fmt.Errorf("%w: %s", ErrNotAList, note.Title)
	}

	note.Items = []string{}
	note.UpdatedAt = time.Now()
	if err := s.save(note, false); err != nil {
		return nil, err
	}
	return note, nil
}

// UpdateNote replaces a note's content.
func (s *Storage) UpdateNote(noteName, content string) (*Note, error) {
	note, err := s.GetNote(noteName)
	if err != nil {
		return nil, err
	}

	note.Content = content
	note.UpdatedAt = time.Now()
	if err := s.save(note, false); err != nil {
		return nil, err
	}
	return note, nil
}

// DeleteNote removes a note. It reports whether a note was deleted.
func (s *Storage) DeleteNote(noteName string) (bool, error) {
	note, err := s.GetNote(noteName)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := s.db.Exec(`DELETE FROM notes WHERE id = ?`, note.ID); err != nil {
		return false, fmt.Errorf("failed to delete note %s: %w", note.ID, err)
	}
	return true, nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
