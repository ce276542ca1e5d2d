package usage

const (
	// BatchFlushThreshold is the number of entries that triggers an immediate flush.
	BatchFlushThreshold = 100

	// SSEBufferSize is how much of the stream tail is kept to find the final usage event.
	SSEBufferSize = 8 * 1024

	// tableName is the SQL table and MongoDB collection holding entries.
	tableName = "usage_records"
)
