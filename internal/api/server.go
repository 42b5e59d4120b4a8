package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentHub/internal/agent"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/orchestrator"
	"AgentHub/internal/task"
	"AgentHub/pkg/logger"
)

const maxBodyBytes = 1 << 20

// TaskService 是异步任务接口依赖的能力。
type TaskService interface {
	Submit(ctx context.Context, req task.Request) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Task, error)
}

// Dispatcher 是同步执行接口依赖的编排能力。
type Dispatcher interface {
	ExecuteTask(ctx context.Context, task, conversationID string) (*agent.Result, error)
	ExecuteTasksParallel(ctx context.Context, tasks []string, conversationIDs []string) []orchestrator.Outcome
	Agents() []orchestrator.Descriptor
	Strategy() string
}

// ToolCatalog 列出已注册工具的描述。
type ToolCatalog interface {
	Schemas() []llm.ToolSpec
}

// Dependencies 汇总 API 服务依赖的组件，缺失的组件对应接口返回 503。
type Dependencies struct {
	Tasks        TaskService
	Orchestrator Dispatcher
	Tools        ToolCatalog
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Server 负责暴露 REST 接口，供外部提交任务并驱动代理执行。
type Server struct {
	addr            string
	deps            Dependencies
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) *Server {
	l := deps.Logger
	if l == nil {
		l = logger.Named("api")
	}
	return &Server{addr: addr, deps: deps, logger: l, shutdownTimeout: 5 * time.Second}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func (s *Server) WithShutdownTimeout(timeout time.Duration) *Server {
	if timeout > 0 {
		s.shutdownTimeout = timeout
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/tasks", s.instrument("tasks", s.handleTasks))
	mux.Handle("/api/v1/tasks/", s.instrument("task_detail", s.handleTaskDetail))
	mux.Handle("/api/v1/run", s.instrument("run", s.handleRun))
	mux.Handle("/api/v1/run/batch", s.instrument("run_batch", s.handleRunBatch))
	mux.Handle("/api/v1/agents", s.instrument("agents", s.handleAgents))
	mux.Handle("/api/v1/tools", s.instrument("tools", s.handleTools))
	mux.Handle("/metrics", s.deps.Metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type submitTaskRequest struct {
	ID             string         `json:"id"`
	Task           string         `json:"task"`
	ConversationID string         `json:"conversation_id"`
	Metadata       map[string]any `json:"metadata"`
}

type runRequest struct {
	Task           string `json:"task"`
	ConversationID string `json:"conversation_id"`
}

type batchRequest struct {
	Tasks           []string `json:"tasks"`
	ConversationIDs []string `json:"conversation_ids"`
	Method          string   `json:"method"`
}

type batchOutcome struct {
	Result *agent.Result `json:"result,omitempty"`
	Error  *errorBody    `json:"error,omitempty"`
}

type batchResponse struct {
	Outcomes  []batchOutcome `json:"outcomes"`
	Aggregate *agent.Result  `json:"aggregate,omitempty"`
	Method    string         `json:"method,omitempty"`
}

type agentsResponse struct {
	Strategy string                    `json:"strategy"`
	Agents   []orchestrator.Descriptor `json:"agents"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "任务服务未初始化")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET/POST")
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.deps.Tasks.Submit(r.Context(), task.Request{
		ID:             req.ID,
		Task:           req.Task,
		ConversationID: req.ConversationID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := []task.ListOption{task.WithLimit(20)}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "未知的任务状态: "+string(status))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if conv := query.Get("conversation_id"); conv != "" {
		opts = append(opts, task.WithConversation(conv))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}

	tasks, err := s.deps.Tasks.List(r.Context(), opts...)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleTaskDetail 返回单个任务的状态与结果。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "任务服务未初始化")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "缺少任务 ID")
		return
	}
	found, err := s.deps.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}
	if s.deps.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "编排器未初始化")
		return
	}
	var req runRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "task 不能为空")
		return
	}
	result, err := s.deps.Orchestrator.ExecuteTask(r.Context(), req.Task, req.ConversationID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}
	if s.deps.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "编排器未初始化")
		return
	}
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "tasks 不能为空")
		return
	}
	if len(req.ConversationIDs) > 0 && len(req.ConversationIDs) != len(req.Tasks) {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "conversation_ids 数量需与 tasks 一致")
		return
	}

	outcomes := s.deps.Orchestrator.ExecuteTasksParallel(r.Context(), req.Tasks, req.ConversationIDs)
	resp := batchResponse{Outcomes: make([]batchOutcome, len(outcomes)), Method: req.Method}
	results := make([]*agent.Result, 0, len(outcomes))
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			resp.Outcomes[i].Error = &errorBody{Code: string(xerrors.CodeOf(outcome.Err)), Message: outcome.Err.Error()}
			continue
		}
		resp.Outcomes[i].Result = outcome.Result
		results = append(results, outcome.Result)
	}
	if req.Method != "" {
		resp.Aggregate = orchestrator.Aggregate(results, req.Method)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.deps.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "编排器未初始化")
		return
	}
	writeJSON(w, http.StatusOK, agentsResponse{
		Strategy: s.deps.Orchestrator.Strategy(),
		Agents:   s.deps.Orchestrator.Agents(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.deps.Tools == nil {
		writeJSON(w, http.StatusOK, []llm.ToolSpec{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tools.Schemas())
}

// writeErr 根据错误码选择 HTTP 状态，5xx 记录日志。
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := xerrors.CodeOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.String("code", string(code)), slog.Any("error", err))
	}
	writeError(w, status, string(code), err.Error())
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation, xerrors.CodeUnknownStrategy:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeIterationBudget:
		return http.StatusUnprocessableEntity
	case xerrors.CodeNoAgents, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeModelInvocation:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求耗时与状态码。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.deps.Metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
