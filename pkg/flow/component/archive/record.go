package archive

import (
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
)

// Record is one archived dead-letter job, as written to parquet.
type Record struct {
	ID                  string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	HandlerType         string `parquet:"name=handler_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	HandlerConfig       string `parquet:"name=handler_config, type=BYTE_ARRAY, convertedtype=UTF8"`
	CorrelationID       string `parquet:"name=correlation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TenantID            string `parquet:"name=tenant_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Exclusive           bool   `parquet:"name=is_exclusive, type=BOOLEAN"`
	Repeat              string `parquet:"name=repeat_expr, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExceptionMessage    string `parquet:"name=exception_message, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExceptionStackTrace string `parquet:"name=exception_stack_trace, type=BYTE_ARRAY, convertedtype=UTF8"`
	DueDate             *int64 `parquet:"name=due_date, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	CreateTime          int64  `parquet:"name=create_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ArchivedAt          int64  `parquet:"name=archived_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func newRecord(j *model.Job, archivedAt int64) Record {
	r := Record{
		ID:                  j.ID,
		HandlerType:         j.HandlerType,
		HandlerConfig:       j.HandlerConfig,
		CorrelationID:       j.CorrelationID,
		TenantID:            j.TenantID,
		Exclusive:           j.Exclusive,
		Repeat:              j.Repeat,
		ExceptionMessage:    j.ExceptionMessage,
		ExceptionStackTrace: j.ExceptionStackTrace,
		CreateTime:          j.CreateTime.UnixMilli(),
		ArchivedAt:          archivedAt,
	}
	if j.DueDate != nil {
		due := j.DueDate.UnixMilli()
		r.DueDate = &due
	}
	return r
}
