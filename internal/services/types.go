package services

// Uploader schedules background synchronization for an entity that has become
// upload-eligible. Implementations must be safe to call more than once for
// the same entity.
type Uploader interface {
	Enqueue(kind, entityID string)
}

// nopUploader is used when no sync manager is wired (tests, offline tools).
type nopUploader struct{}

func (nopUploader) Enqueue(kind, entityID string) {}
