package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/task"
	"Invoke-Chain/pkg/invoke"
)

type invokeRequest struct {
	ID     string         `json:"id,omitempty"`
	Values map[string]any `json:"values,omitempty"`
	// Groups is a pointer so an explicit empty list can be told apart from an
	// omitted one.
	Groups *[]string `json:"groups,omitempty"`
}

type invokeResponse struct {
	ID         string   `json:"id"`
	Function   string   `json:"function"`
	Groups     []string `json:"groups"`
	Result     any      `json:"result"`
	DurationMS int64    `json:"duration_ms"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if s.deps.Functions == nil || s.deps.Invoker == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "invoker not configured"))
		return
	}
	name := r.PathValue("name")
	fn, ok := s.deps.Functions.Lookup(name)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("unknown function %q", name)))
		return
	}

	var req invokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := uuid.New()
	if req.ID != "" {
		parsed, err := uuid.Parse(req.ID)
		if err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "id must be a uuid"))
			return
		}
		id = parsed
	}
	opts := []invoke.CallOption{invoke.WithID(id), invoke.WithValues(normalizeNumbers(req.Values))}
	groups := s.deps.Invoker.DefaultGroups()
	if req.Groups != nil {
		groups = *req.Groups
		opts = append(opts, invoke.WithGroups(groups...))
	}

	ctx := r.Context()
	if s.opts.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.InvokeTimeout)
		defer cancel()
	}

	started := time.Now()
	out, err := s.deps.Invoker.Invoke(ctx, fn, opts...)
	if err != nil {
		s.logger.Debug("invocation failed",
			slog.String("function", name),
			slog.String("invocation_id", id.String()),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{
		ID:         id.String(),
		Function:   name,
		Groups:     groups,
		Result:     out,
		DurationMS: time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleFunctions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Functions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"functions": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"functions": s.deps.Functions.Describe()})
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"groups": []any{}}
	if s.deps.Groups != nil {
		if groups := s.deps.Groups(); groups != nil {
			resp["groups"] = groups
		}
	}
	if s.deps.Invoker != nil {
		resp["default_groups"] = s.deps.Invoker.DefaultGroups()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue not configured"))
		return
	}
	var req task.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Values = normalizeNumbers(req.Values)
	t, err := s.deps.Tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue not configured"))
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.deps.Tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue not configured"))
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.deps.Tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue not configured"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "task id is required"))
		return
	}
	t, err := s.deps.Tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "audit log not configured"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = min(n, 500)
	}
	records, err := s.deps.Audit.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list audit records"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listOptions turns query parameters into task list filters.
func listOptions(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	var opts []task.ListOption

	intParam := func(name string, apply func(int) task.ListOption) error {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s must be a non-negative integer", name))
		}
		opts = append(opts, apply(n))
		return nil
	}
	if err := intParam("limit", task.WithLimit); err != nil {
		return nil, err
	}
	if err := intParam("offset", task.WithOffset); err != nil {
		return nil, err
	}

	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			switch st := task.Status(strings.ToLower(strings.TrimSpace(part))); st {
			case task.StatusPending, task.StatusRunning, task.StatusSucceeded, task.StatusFailed:
				statuses = append(statuses, st)
			case "":
			default:
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown status %q", part))
			}
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}

	for name, apply := range map[string]func(time.Time) task.ListOption{
		"updated_since": task.WithUpdatedSince,
		"updated_until": task.WithUpdatedUntil,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("invalid %s", name))
		}
		opts = append(opts, apply(ts))
	}

	if raw := q.Get("has_result"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result must be a boolean")
		}
		opts = append(opts, task.WithResultPresence(v))
	}

	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order must be asc or desc")
	}

	if raw := q.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}

// parseTime accepts RFC 3339 timestamps and unix seconds.
func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}
