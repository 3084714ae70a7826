package thumb

import "github.com/zoobzio/capitan"

// Signals for resolution, generation, and maintenance events.
var (
	ResolveCacheHit   = capitan.NewSignal("thumb.resolve.cache_hit", "URL served from the URL cache")
	ResolveExistsHit  = capitan.NewSignal("thumb.resolve.exists_hit", "URL served after an existence check")
	ResolveGenerated  = capitan.NewSignal("thumb.resolve.generated", "URL served after generating the asset")
	ResolveFallback   = capitan.NewSignal("thumb.resolve.fallback", "Fallback URL served after a failure")
	GenerateStarted   = capitan.NewSignal("thumb.generate.started", "Asset generation initiated")
	GenerateCompleted = capitan.NewSignal("thumb.generate.completed", "Asset generation succeeded")
	GenerateFailed    = capitan.NewSignal("thumb.generate.failed", "Asset generation failed")
	PurgeCompleted    = capitan.NewSignal("thumb.purge.completed", "Derived assets purged")
	JobRetry          = capitan.NewSignal("thumb.job.retry", "Async generation attempt failed and will retry")
	JobDead           = capitan.NewSignal("thumb.job.dead", "Async generation exhausted its retries")
)

// Field keys for event extraction.
var (
	FieldPreset   = capitan.NewStringKey("preset")
	FieldVariant  = capitan.NewStringKey("variant")
	FieldSource   = capitan.NewStringKey("source")
	FieldDisk     = capitan.NewStringKey("disk")
	FieldPath     = capitan.NewStringKey("path")
	FieldURL      = capitan.NewStringKey("url")
	FieldKind     = capitan.NewStringKey("kind")
	FieldJob      = capitan.NewStringKey("job")
	FieldAttempt  = capitan.NewIntKey("attempt")
	FieldBytes    = capitan.NewInt64Key("bytes")
	FieldCount    = capitan.NewIntKey("count")
	FieldDuration = capitan.NewDurationKey("duration")
	FieldError    = capitan.NewErrorKey("error")
)
