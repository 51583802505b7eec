package taskname

const (
	// Notification tasks
	NotificationPush = "notification:push"

	// ERP tasks
	ERPSyncClient = "erp:sync_client"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
