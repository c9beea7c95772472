package message

import "time"

// This file provides the common data objects used by the rest of the
// program.

// Message is a single backed up message as recorded in the index.
type Message struct {
	// The permanent and unique ID of the message in the remote
	// mailbox.  Never reused by the provider; the dedup key.
	ID string

	// The permanent and unique ID of the thread associated with the
	// message.  May be empty for providers without threads.
	ThreadID string

	// SHA-256 of the raw RFC 5322 bytes, hex encoded.
	ContentHash string

	// Location of the raw bytes in the content store, relative to
	// the storage root.
	RawPath string

	// Date header of the message, falling back to the provider's
	// internal date when the header is missing or unparsable.
	ReceivedAt time.Time

	Subject string
	From    string
	To      string

	// Label names (not provider label identifiers!) observed on the
	// message.  Only ever grows.
	Labels []string

	Snippet  string
	BodyText string

	// Size of the raw message in bytes.
	SizeBytes int64

	// Ordered as they appear in the MIME tree.
	Attachments []Attachment
}

// Attachment is a file carried by a Message.
type Attachment struct {
	ContentHash string
	ParentID    string
	Position    int
	Filename    string
	MIMEType    string
	SizeBytes   int64

	// Location of the attachment in the content store, relative to
	// the storage root.
	Path string
}

// Summary is a search hit.
type Summary struct {
	ID              string
	Subject         string
	From            string
	ReceivedAt      time.Time
	Snippet         string
	AttachmentCount int

	// Lower is better; as reported by the full-text ranking function.
	Rank float64
}

// Stats describes the contents of the index.
type Stats struct {
	TotalMessages    int64
	TotalAttachments int64
	TotalBytes       int64

	// Zero when the index is empty.
	Oldest time.Time
	Newest time.Time
}

// HasLabel reports whether labels contains name.
func HasLabel(labels []string, name string) bool {
	for _, l := range labels {
		if l == name {
			return true
		}
	}
	return false
}
