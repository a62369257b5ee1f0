// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// File is the metadata record of an ingested file. VersionID stays empty while
// the record is provisional, i.e. before the first object write is committed.
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DatasetID   string    `json:"datasetId"`
	FolderID    *string   `json:"folderId,omitempty"`
	Creator     string    `json:"creator"`
	Created     time.Time `json:"created"`
	Downloads   int64     `json:"downloads"`
	Bytes       int64     `json:"bytes"`
	ContentType string    `json:"contentType"`
	VersionID   string    `json:"versionId,omitempty"`
	VersionNum  int       `json:"versionNum"`
}

// Provisional reports whether the record has not been committed yet.
func (f *File) Provisional() bool {
	return f.VersionID == ""
}

// FileVersion is appended once per successful binary write and never mutated.
type FileVersion struct {
	VersionID   string    `json:"versionId"`
	VersionNum  int       `json:"versionNum"`
	FileID      string    `json:"fileId"`
	Creator     string    `json:"creator"`
	Bytes       int64     `json:"bytes"`
	ContentType string    `json:"contentType"`
	Created     time.Time `json:"created"`
}

// Metadata is a derived metadata entry attached to a file.
type Metadata struct {
	ID         string         `json:"id"`
	ResourceID string         `json:"resourceId"`
	Content    map[string]any `json:"content"`
	Creator    string         `json:"creator"`
	Created    time.Time      `json:"created"`
}
