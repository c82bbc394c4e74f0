// Package event provides the vocabulary of the event collection: field
// names, deletion modes, query predicates and lifecycle states.
package event

import (
	"strings"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Event fields as exposed to callers.
const (
	FieldStreamIDs   = "streamIds"
	FieldTime        = "time"
	FieldDuration    = "duration"
	FieldType        = "type"
	FieldContent     = "content"
	FieldTags        = "tags"
	FieldDescription = "description"
	FieldClientData  = "clientData"
	FieldAttachments = "attachments"
	FieldCreated     = "created"
	FieldCreatedBy   = "createdBy"
	FieldModified    = "modified"
	FieldModifiedBy  = "modifiedBy"
)

// Storage-internal fields. None of them is ever returned to a caller.
const (
	// FieldEndTime is time + duration, nil while the event is running.
	FieldEndTime = "endTime"

	// FieldLegacyStreamID is the single-stream form accepted on write.
	FieldLegacyStreamID = "streamId"

	// FieldBatchID marks documents touched by a bulk update until their
	// integrity has been recomputed.
	FieldBatchID = "_batchId"
)

// UniqueSuffix is appended to a system field name to build its uniqueness
// mirror field.
const UniqueSuffix = "__unique"

// TagStreamPrefix prefixes the synthetic stream id derived from a tag.
const TagStreamPrefix = ":_tag:"

// SeriesTypePrefix marks series types, whose content is a fixed descriptor.
const SeriesTypePrefix = "series:"

// MirrorField returns the uniqueness mirror field for a system field.
func MirrorField(field string) string {
	return field + UniqueSuffix
}

// IsMirrorField reports whether a field is a uniqueness mirror.
func IsMirrorField(field string) bool {
	return strings.HasSuffix(field, UniqueSuffix) && len(field) > len(UniqueSuffix)
}

// TagStreamID returns the synthetic stream id for a tag.
func TagStreamID(tag string) string {
	return TagStreamPrefix + tag
}

// IsTagStreamID reports whether a stream id was derived from a tag.
func IsTagStreamID(id string) bool {
	return strings.HasPrefix(id, TagStreamPrefix)
}

// IsSeriesType reports whether an event type is a series type.
func IsSeriesType(t string) bool {
	return strings.HasPrefix(t, SeriesTypePrefix)
}

// Attachment references an externally stored file.
type Attachment struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	Integrity string `json:"integrity,omitempty"`
}

// AttachmentsOf extracts the attachment descriptors of an event document.
func AttachmentsOf(d storage.Document) []Attachment {
	raw, ok := d[FieldAttachments].([]any)
	if !ok {
		return nil
	}
	out := make([]Attachment, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		doc := storage.Document(m)
		size, _ := doc.Float("size")
		out = append(out, Attachment{
			ID:        doc.String("id"),
			FileName:  doc.String("fileName"),
			Type:      doc.String("type"),
			Size:      int64(size),
			Integrity: doc.String("integrity"),
		})
	}
	return out
}

// ProvenanceFields are kept on tombstones under the keep-authors mode.
var ProvenanceFields = []string{FieldCreated, FieldCreatedBy, FieldModified, FieldModifiedBy}

// ContentFields lists every mutable event field. Tombstones never carry
// them, whatever the deletion mode.
var ContentFields = []string{
	FieldStreamIDs,
	FieldLegacyStreamID,
	FieldTime,
	FieldDuration,
	FieldEndTime,
	FieldType,
	FieldContent,
	FieldTags,
	FieldDescription,
	FieldClientData,
	FieldAttachments,
	storage.FieldTrashed,
}
