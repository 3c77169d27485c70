package services

import (
	"github.com/sjperalta/opcost-api/internal/allocation"
	"github.com/sjperalta/opcost-api/internal/config"
	"github.com/sjperalta/opcost-api/internal/jobs"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/storage"
	"gorm.io/gorm"
)

// Services holds all service instances
type Services struct {
	Statement    *StatementService
	Document     *DocumentService
	Delivery     *DeliveryService
	Notification *NotificationService
	Audit        *AuditService
	Email        *EmailService
	Job          *JobService
}

// NewServices creates all service instances
func NewServices(repos *repository.Repositories, worker *jobs.Worker, storage *storage.LocalStorage, cfg *config.Config, db *gorm.DB) *Services {
	notificationSvc := NewNotificationService(repos.Notification)
	emailSvc := NewEmailService(cfg)
	auditSvc := NewAuditService(db)

	// one registry shared by the engine and the document labels
	registry := allocation.DefaultRegistry()
	engine := allocation.NewEngine(registry)

	documentSvc := NewDocumentService(repos.Statement, storage, NewPDFRenderer(cfg), registry, cfg.Currency)

	return &Services{
		Statement:    NewStatementService(repos.Statement, repos.CostRecords, repos.Property, engine, notificationSvc, auditSvc, storage),
		Document:     documentSvc,
		Delivery:     NewDeliveryService(repos.Statement, repos.Delivery, documentSvc, emailSvc, notificationSvc, auditSvc, worker),
		Notification: notificationSvc,
		Audit:        auditSvc,
		Email:        emailSvc,
		Job:          NewJobService(worker),
	}
}
