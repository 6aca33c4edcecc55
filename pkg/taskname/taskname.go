package taskname

const (
	// Partner sync tasks
	PartnerSyncDrain = "partnersync:drain"

	// Metrics tasks
	SubmissionRescrape = "submission:rescrape"
	RescrapeSweep      = "submission:rescrape:sweep"

	// Settlement tasks
	SettlementReconcile = "settlement:reconcile"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
