package store

import (
	"time"

	"github.com/google/uuid"
)

// FolderStatus is the index lifecycle state of a registered folder.
type FolderStatus string

const (
	FolderPending  FolderStatus = "pending"
	FolderIndexing FolderStatus = "indexing"
	FolderReady    FolderStatus = "ready"
	FolderFailed   FolderStatus = "failed"
)

// FileStatus is the per-file index state.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileIndexing  FileStatus = "indexing"
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
)

// JobStatus is the state of an indexing job row.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Folder is one registered remote folder for one tenant.
type Folder struct {
	ID           uuid.UUID
	TenantID     string
	RemoteID     string
	Name         string
	Status       FolderStatus
	FilesTotal   int
	FilesIndexed int
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// File is one file inside a folder. TenantID is denormalized from the
// folder for defense-in-depth filtering.
type File struct {
	ID          uuid.UUID
	FolderID    uuid.UUID
	TenantID    string
	RemoteID    string
	Name        string
	MimeType    string
	ModifiedAt  time.Time
	Preview     string
	IndexStatus FileStatus
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Location describes where a chunk sits inside its source file. Type
// selects which of the remaining fields are meaningful.
type Location struct {
	Type        string   `json:"type"`
	Page        int      `json:"page,omitempty"`
	HeadingPath []string `json:"heading_path,omitempty"`
	ParaIndex   int      `json:"para_index,omitempty"`
	SheetName   string   `json:"sheet_name,omitempty"`
	RowRange    string   `json:"row_range,omitempty"`
}

// Chunk is a contiguous text fragment extracted from a file.
type Chunk struct {
	ID         uuid.UUID
	FileID     uuid.UUID
	TenantID   string
	ChunkIndex int
	Text       string
	Embedding  []float32
	Location   Location
	CreatedAt  time.Time
}

// Job is a unit of indexing work for one file. At most one live row
// exists per file.
type Job struct {
	ID          uuid.UUID
	FileID      uuid.UUID
	FolderID    uuid.UUID
	Status      JobStatus
	Priority    int
	Attempts    int
	MaxAttempts int
	LastError   string
	RunAfter    time.Time
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Conversation groups the messages of one chat thread against a folder.
type Conversation struct {
	ID        uuid.UUID
	FolderID  uuid.UUID
	TenantID  string
	CreatedAt time.Time
}

// Message is one turn of a conversation. Citations is non-nil only on
// assistant messages.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Citations      map[string]Citation
	CreatedAt      time.Time
}

// Citation resolves an inline [N] marker in assistant output back to a
// source chunk.
type Citation struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	FileID        uuid.UUID `json:"file_id"`
	FileName      string    `json:"file_name"`
	Location      Location  `json:"location"`
	Excerpt       string    `json:"excerpt"`
	DriveDeepLink string    `json:"drive_deep_link"`
}
