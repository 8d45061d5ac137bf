package entities

import "time"

// File is one uploaded file after content sniffing. Data is owned by the
// caller and must not be modified by the pipeline.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Ext      string `json:"ext"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

type Attachment struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Key              string    `json:"key"`
	URL              string    `json:"url"`
	CompressKey      *string   `json:"compress_key,omitempty"`
	CompressURL      *string   `json:"compress_url,omitempty"`
	MimeType         string    `json:"mime_type"`
	Size             int64     `json:"size"`
	Width            int       `json:"width,omitempty"`
	Height           int       `json:"height,omitempty"`
	Hash             string    `json:"hash"`
	OriginalName     string    `json:"original_name"`
	CreatedTimestamp time.Time `json:"created_timestamp"`
}

type ItemStatus string

const (
	ItemUploaded  ItemStatus = "uploaded"
	ItemDuplicate ItemStatus = "duplicate"
	ItemRejected  ItemStatus = "rejected"
	ItemFailed    ItemStatus = "failed"
	ItemCanceled  ItemStatus = "canceled"
)

// BatchItem is the outcome of one file in a batch, at the file's original
// position.
type BatchItem struct {
	Index         int         `json:"index"`
	Name          string      `json:"name"`
	Status        ItemStatus  `json:"status"`
	Attachment    *Attachment `json:"attachment,omitempty"`
	CompressError string      `json:"compress_error,omitempty"`
	Error         string      `json:"error,omitempty"`
}

type Batch struct {
	ID        string      `json:"id"`
	UserID    int64       `json:"user_id"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Items     []BatchItem `json:"items"`
	StartedAt time.Time   `json:"started_at"`
	Duration  string      `json:"duration"`
}
