package repository

import (
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	CostRecords  CostRecordStore
	Statement    StatementRepository
	Property     PropertyRepository
	Delivery     DeliveryLogRepository
	Notification NotificationRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		CostRecords:  NewCostRecordStore(db),
		Statement:    NewStatementRepository(db),
		Property:     NewPropertyRepository(db),
		Delivery:     NewDeliveryLogRepository(db),
		Notification: NewNotificationRepository(db),
	}
}

// ListQuery represents common query parameters
type ListQuery struct {
	Page    int
	PerPage int
	Search  string
	SortBy  string
	SortDir string
	Filters map[string]string
}

// NewListQuery creates a ListQuery with defaults
func NewListQuery() *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: 20,
		Filters: make(map[string]string),
	}
}
