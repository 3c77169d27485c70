package handlers

import (
	"github.com/sjperalta/opcost-api/internal/services"
)

// Handlers holds all handler instances
type Handlers struct {
	Health       *HealthHandler
	Statement    *StatementHandler
	Document     *DocumentHandler
	Delivery     *DeliveryHandler
	Notification *NotificationHandler
	Audit        *AuditHandler
	Job          *JobHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(),
		Statement:    NewStatementHandler(svcs.Statement),
		Document:     NewDocumentHandler(svcs.Statement, svcs.Document),
		Delivery:     NewDeliveryHandler(svcs.Statement, svcs.Delivery),
		Notification: NewNotificationHandler(svcs.Notification),
		Audit:        NewAuditHandler(svcs.Audit),
		Job:          NewJobHandler(svcs.Job),
	}
}
