package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UploadedFile is an attachment saved to disk and tracked in the database
type UploadedFile struct {
	ID             int64     `json:"id"`
	ConversationID *int64    `json:"conversation_id,omitempty"`
	Name           string    `json:"name"`
	StoredPath     string    `json:"stored_path"`
	FileType       string    `json:"file_type"`
	MIMEType       string    `json:"mime_type"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
}

// KnowledgeBase names one retrievable document collection
type KnowledgeBase struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaveFile records an upload
func (s *Store) SaveFile(ctx context.Context, file *UploadedFile) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO uploaded_files (conversation_id, name, stored_path, file_type, mime_type, size)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		file.ConversationID, file.Name, file.StoredPath, file.FileType, file.MIMEType, file.Size)
	if err != nil {
		return 0, fmt.Errorf("failed to save file record: %w", err)
	}
	return res.LastInsertId()
}

// GetFile loads one upload record
func (s *Store) GetFile(ctx context.Context, id int64) (*UploadedFile, error) {
	var file UploadedFile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, name, stored_path, file_type, mime_type, size, created_at
		 FROM uploaded_files WHERE id = ?`, id).
		Scan(&file.ID, &file.ConversationID, &file.Name, &file.StoredPath,
			&file.FileType, &file.MIMEType, &file.Size, &file.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// ListFiles returns uploads attached to a conversation
func (s *Store) ListFiles(ctx context.Context, conversationID int64) ([]*UploadedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, name, stored_path, file_type, mime_type, size, created_at
		 FROM uploaded_files WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var out []*UploadedFile
	for rows.Next() {
		var file UploadedFile
		if err := rows.Scan(&file.ID, &file.ConversationID, &file.Name, &file.StoredPath,
			&file.FileType, &file.MIMEType, &file.Size, &file.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &file)
	}
	return out, rows.Err()
}

// DeleteFile removes an upload record
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file %d: %w", id, err)
	}
	return nil
}

// CreateKnowledgeBase registers a named collection
func (s *Store) CreateKnowledgeBase(ctx context.Context, name, description string) (*KnowledgeBase, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge base %q: %w", name, err)
	}
	var kb KnowledgeBase
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM knowledge_bases WHERE name = ?`, name).
		Scan(&kb.ID, &kb.Name, &kb.Description, &kb.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

// ListKnowledgeBases returns every registered collection
func (s *Store) ListKnowledgeBases(ctx context.Context) ([]*KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM knowledge_bases ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var out []*KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &kb)
	}
	return out, rows.Err()
}

// DeleteKnowledgeBase removes a collection record by name
func (s *Store) DeleteKnowledgeBase(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base %q: %w", name, err)
	}
	return nil
}
