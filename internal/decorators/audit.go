package decorators

import (
	"context"
	"errors"
	"log/slog"
	"time"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/storage/mysql"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

// Audit stores a record of every finished invocation. Failing to store the
// record never fails the invocation.
type Audit struct {
	base
	repo   mysql.AuditRepository
	logger *slog.Logger
}

// NewAudit returns an audit decorator. A nil repo is taken from the
// audit.repository resource on Init.
func NewAudit(repo mysql.AuditRepository) *Audit {
	return &Audit{repo: repo, logger: logger.Named("audit")}
}

func (d *Audit) Info() plugin.Info {
	return info("audit", "Persists a record of every invocation.", plugin.PermissionStorage)
}

func (d *Audit) Configure(cfg map[string]any) error {
	return plugin.DecodeConfig(cfg, &d.filter)
}

func (d *Audit) Init(ctx *plugin.ExecutionContext) error {
	if d.repo != nil {
		return nil
	}
	repo, ok := plugin.Resource[mysql.AuditRepository](ctx, plugin.ResourceAuditRepository)
	if !ok {
		return errors.New("audit repository resource not provided")
	}
	d.repo = repo
	return nil
}

func (d *Audit) Supports(md *invoke.Metadata) bool {
	return d.repo != nil && d.filter.Supports(md)
}

func (d *Audit) Decorate(next invoke.Action, md *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (any, error) {
		start := time.Now()
		out, err := next(ctx, args)

		record := &mysql.AuditRecord{
			InvocationID: md.ID.String(),
			Function:     md.FunctionName(),
			Groups:       md.Groups,
			Status:       mysql.AuditSucceeded,
			DurationMS:   time.Since(start).Milliseconds(),
			CreatedAt:    start.Unix(),
		}
		if err != nil {
			record.Status = mysql.AuditFailed
			record.Error = err.Error()
			record.ErrorCode = string(xerrors.FromInvocation(err).Code())
		}
		if saveErr := d.repo.Save(context.WithoutCancel(ctx), record); saveErr != nil {
			d.logger.Warn("audit record not stored",
				slog.String("invocation_id", record.InvocationID),
				slog.Any("error", saveErr))
		}
		logger.Audit().Info("invocation",
			slog.String("invocation_id", record.InvocationID),
			slog.String("function", record.Function),
			slog.String("status", record.Status),
			slog.String("error_code", record.ErrorCode),
			slog.Int64("duration_ms", record.DurationMS))
		return out, err
	}
}
