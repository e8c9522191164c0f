package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/domain/order"
)

const insertAuditSQL = `INSERT INTO audit_log (id, actor, action, detail, recorded_at)
	VALUES ($1, $2, $3, $4, now())`

var _ order.AuditLog = (*AuditLogRepository)(nil)

// AuditLogRepository appends audit records to PostgreSQL. Writes are best
// effort: a failed insert is logged and swallowed so auditing can never fail
// the business operation it describes.
type AuditLogRepository struct {
	pool *pgxpool.Pool
	lg   *zap.Logger
}

// NewAuditLogRepository returns an AuditLogRepository that uses the given pool.
func NewAuditLogRepository(pool *pgxpool.Pool, lg *zap.Logger) *AuditLogRepository {
	return &AuditLogRepository{pool: pool, lg: lg.Named("audit")}
}

// Record appends one audit entry. It intentionally ignores the ambient
// transaction: an audit row should survive even when the caller's work is
// later rolled back, and a rollback must not take the record with it.
func (r *AuditLogRepository) Record(ctx context.Context, actor, action, detail string) {
	_, err := r.pool.Exec(ctx, insertAuditSQL, uuid.New().String(), actor, action, detail)
	if err != nil {
		r.lg.Warn("audit record failed",
			zap.String("actor", actor),
			zap.String("action", action),
			zap.Error(err))
	}
}
