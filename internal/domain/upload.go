package domain

// UploadURL is a single-use presigned PUT endpoint for one encrypted blob.
type UploadURL struct {
	ObjectKey string `json:"objectKey"`
	URL       string `json:"url"`
}

// UploadedObject describes one uploaded blob in a catalog request.
type UploadedObject struct {
	ObjectKey        string `json:"objectKey"`
	DecryptionHeader string `json:"decryptionHeader"`
	Size             int64  `json:"size"`
}

// MetadataBlob is the encrypted metadata attached to a catalog request.
type MetadataBlob struct {
	EncryptedData    string `json:"encryptedData"`
	DecryptionHeader string `json:"decryptionHeader"`
}

// CreateFileRequest is the body of POST /files.
type CreateFileRequest struct {
	CollectionID       int64          `json:"collectionID"`
	EncryptedKey       string         `json:"encryptedKey"`
	KeyDecryptionNonce string         `json:"keyDecryptionNonce"`
	File               UploadedObject `json:"file"`
	Thumbnail          UploadedObject `json:"thumbnail"`
	Metadata           MetadataBlob   `json:"metadata"`
}

// UpdateFileRequest is the body of PUT /files/update. It re-uploads the
// content of an existing remote file, so no collection or key fields.
type UpdateFileRequest struct {
	ID        int64          `json:"id"`
	File      UploadedObject `json:"file"`
	Thumbnail UploadedObject `json:"thumbnail"`
	Metadata  MetadataBlob   `json:"metadata"`
}

// RemoteFile is the catalog service's view of an uploaded file.
type RemoteFile struct {
	ID           int64 `json:"id"`
	OwnerID      int64 `json:"ownerID"`
	CollectionID int64 `json:"collectionID"`
	UpdationTime int64 `json:"updationTime"`
}

// UploadStatus is the lifecycle state of a queued upload.
type UploadStatus int

const (
	// UploadStatusNotStarted means the item is waiting for a free slot.
	UploadStatusNotStarted UploadStatus = iota

	// UploadStatusInProgress means a worker is uploading the item.
	UploadStatusInProgress

	// UploadStatusInBackground means the background process holds the lock
	// and the liaison will report completion on its behalf.
	UploadStatusInBackground

	// UploadStatusCompleted means the item's result has been fulfilled.
	UploadStatusCompleted
)

func (s UploadStatus) String() string {
	switch s {
	case UploadStatusNotStarted:
		return "notStarted"
	case UploadStatusInProgress:
		return "inProgress"
	case UploadStatusInBackground:
		return "inBackground"
	case UploadStatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ProcessType tags which process owns a lock record.
type ProcessType string

const (
	ProcessForeground ProcessType = "foreground"
	ProcessBackground ProcessType = "background"
)

// LockRecord is a persisted per-file advisory lock shared between the
// foreground and background processes.
type LockRecord struct {
	LocalID         string
	Owner           ProcessType
	AcquiredAtMicro int64
}
