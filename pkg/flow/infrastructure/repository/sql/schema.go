package sql

import (
	"time"
)

// TableName is the single job table. The collection column places each row in
// exactly one collection.
const TableName = "riptide_job"

// JobEntity is the persisted form of model.Job.
type JobEntity struct {
	ID                  string     `gorm:"column:id;primaryKey;size:64"`
	HandlerType         string     `gorm:"column:handler_type;size:255;not null"`
	HandlerConfig       string     `gorm:"column:handler_config;type:text"`
	CorrelationID       string     `gorm:"column:correlation_id;size:64;index"`
	Collection          string     `gorm:"column:collection;size:16;not null;index:idx_riptide_job_due,priority:1"`
	DueDate             *time.Time `gorm:"column:due_date;index:idx_riptide_job_due,priority:2"`
	LockOwner           *string    `gorm:"column:lock_owner;size:255"`
	LockExpirationTime  *time.Time `gorm:"column:lock_expiration_time;index"`
	Retries             int        `gorm:"column:retries;not null"`
	Exclusive           bool       `gorm:"column:is_exclusive;not null"`
	Repeat              string     `gorm:"column:repeat_expr;size:255"`
	ExceptionMessage    string     `gorm:"column:exception_message;type:text"`
	ExceptionStackTrace string     `gorm:"column:exception_stack_trace;type:text"`
	TenantID            string     `gorm:"column:tenant_id;size:64"`
	CreateTime          time.Time  `gorm:"column:create_time;not null"`
	Version             int        `gorm:"column:version;not null"`
}

func (JobEntity) TableName() string {
	return TableName
}
