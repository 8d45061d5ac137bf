package queue

// CompressJob is what we push to Redis Streams.
// No bytes here—workers fetch the original by ObjectKey.
type CompressJob struct {
	ObjectKey   string `json:"object_key"`
	MimeType    string `json:"mime_type"`
	CompressKey string `json:"compress_key"`
}
