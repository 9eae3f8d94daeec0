package models

// EvidenceItem is one uploaded file as it was persisted in the evidence store.
// It is never mutated after creation.
type EvidenceItem struct {
	SHA256       string `json:"sha256" firestore:"sha256"`
	OriginalName string `json:"original_name" firestore:"originalName"`
	ByteSize     int64  `json:"byte_size" firestore:"byteSize"`
	MediaType    string `json:"media_type" firestore:"mediaType"`
	Location     string `json:"file_path" firestore:"filePath"`
}

// Upload is the tuple delivered by the upload boundary, one per file.
type Upload struct {
	RunID        string
	OriginalName string
	Content      []byte
	DeclaredType string
}
