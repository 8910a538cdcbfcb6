package queue

const (
	TypeDocumentReprocess = "document:reprocess"
)

// ReprocessPayload names a file already in upload storage that should run
// through the delegate and be recorded.
type ReprocessPayload struct {
	FileName string `json:"file_name"`
}
