package taskname

const (
	// Mission run tasks
	MissionRunExpiry = "mission:run:expire"

	// Wallet tasks
	WalletReconcile = "wallet:reconcile"
)
