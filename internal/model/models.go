package model

// All returns every table owned by the service, in migration order.
func All() []any {
	return []any{
		&Order{},
		&OrderInvoice{},
		&ReconciliationLogEntry{},
		&NotificationDispatch{},
	}
}
