package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/BaSui01/agentweave/types"
	"github.com/BaSui01/agentweave/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 🔀 工作流 Handler
// =============================================================================

// WorkflowService 工作流处理器依赖的引擎能力，*workflow.Engine 实现该接口
type WorkflowService interface {
	CreateWorkflow(ctx context.Context, ownerID, name, description string, nodes []workflow.WorkflowNode) workflow.CreateResult
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, bool)
	GetUserWorkflows(ctx context.Context, ownerID string) []*workflow.Workflow
	DeleteWorkflow(ctx context.Context, id, ownerID string) bool
	SetWorkflowActive(ctx context.Context, id, ownerID string, active bool) (*workflow.Workflow, error)
	ExecuteWorkflow(ctx context.Context, workflowID, ownerID string, input any) *workflow.WorkflowResult
	Runs(workflowID string) []*workflow.WorkflowResult
}

// WorkflowHandler 工作流 CRUD 与执行处理器
type WorkflowHandler struct {
	service WorkflowService
	hub     *workflow.EventHub
	logger  *zap.Logger

	// 节点未声明 max_retries 时使用
	defaultMaxRetries int
}

// CreateWorkflowRequest 创建工作流请求
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Nodes       []workflow.NodeDefinition `json:"nodes"`
}

// UpdateWorkflowRequest 更新工作流请求，目前只支持切换启用状态
type UpdateWorkflowRequest struct {
	IsActive *bool `json:"is_active"`
}

// ExecuteWorkflowRequest 执行工作流请求
type ExecuteWorkflowRequest struct {
	Input any `json:"input"`
}

// DeleteWorkflowResponse 删除结果
type DeleteWorkflowResponse struct {
	Deleted bool `json:"deleted"`
}

// NewWorkflowHandler 创建工作流处理器；hub 为 nil 时不支持旁观模式的事件流
func NewWorkflowHandler(service WorkflowService, hub *workflow.EventHub, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		service: service,
		hub:     hub,
		logger:  logger.With(zap.String("component", "workflow_handler")),
	}
}

// WithDefaultMaxRetries 设置节点默认重试次数
func (h *WorkflowHandler) WithDefaultMaxRetries(n int) *WorkflowHandler {
	if n >= 0 {
		h.defaultMaxRetries = n
	}
	return h
}

// RegisterRoutes 注册工作流路由
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workflows", h.HandleCreate)
	mux.HandleFunc("GET /v1/workflows", h.HandleList)
	mux.HandleFunc("GET /v1/workflows/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /v1/workflows/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /v1/workflows/{id}", h.HandleDelete)
	mux.HandleFunc("POST /v1/workflows/{id}/execute", h.HandleExecute)
	mux.HandleFunc("GET /v1/workflows/{id}/runs", h.HandleRuns)
	mux.HandleFunc("GET /v1/workflows/{id}/stream", h.HandleStream)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleCreate 创建工作流
// @Summary 创建工作流
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body CreateWorkflowRequest true "工作流定义"
// @Success 201 {object} Response{data=workflow.CreateResult} "创建成功"
// @Failure 400 {object} Response "定义无效"
// @Router /v1/workflows [post]
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req CreateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	def := workflow.Definition{Name: req.Name, Description: req.Description, Nodes: req.Nodes}
	nodes := def.ToNodes(h.defaultMaxRetries)
	res := h.service.CreateWorkflow(r.Context(), ownerID, strings.TrimSpace(req.Name), req.Description, nodes)
	if !res.Success {
		code := res.ErrorCode
		if code == "" {
			code = types.ErrInternalError
		}
		WriteError(w, types.NewError(code, res.Error), h.logger)
		return
	}

	WriteSuccessStatus(w, http.StatusCreated, res)
}

// HandleList 列出当前用户的工作流
// @Summary 列出工作流
// @Tags workflow
// @Produce json
// @Success 200 {object} Response{data=[]workflow.Workflow} "工作流列表"
// @Router /v1/workflows [get]
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, h.service.GetUserWorkflows(r.Context(), ownerID))
}

// HandleGet 获取单个工作流
// @Summary 获取工作流
// @Tags workflow
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} Response{data=workflow.Workflow} "工作流"
// @Failure 404 {object} Response "不存在"
// @Router /v1/workflows/{id} [get]
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.ownedWorkflow(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, wf)
}

// HandleUpdate 切换工作流启用状态
// @Summary 更新工作流
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body UpdateWorkflowRequest true "更新内容"
// @Success 200 {object} Response{data=workflow.Workflow} "更新后的工作流"
// @Router /v1/workflows/{id} [patch]
func (h *WorkflowHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req UpdateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.IsActive == nil {
		WriteError(w, types.NewValidationError("is_active is required"), h.logger)
		return
	}

	wf, err := h.service.SetWorkflowActive(r.Context(), r.PathValue("id"), ownerID, *req.IsActive)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, wf)
}

// HandleDelete 删除工作流
// @Summary 删除工作流
// @Tags workflow
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} Response{data=DeleteWorkflowResponse} "删除结果"
// @Router /v1/workflows/{id} [delete]
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	deleted := h.service.DeleteWorkflow(r.Context(), r.PathValue("id"), ownerID)
	WriteSuccess(w, DeleteWorkflowResponse{Deleted: deleted})
}

// HandleExecute 同步执行工作流
// 被拒绝的执行（不存在、无权限、正在运行）返回对应错误状态码；
// 已开始的执行无论成败都返回 200，结果中携带 success 与节点日志。
// @Summary 执行工作流
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body ExecuteWorkflowRequest false "初始输入"
// @Success 200 {object} Response{data=workflow.WorkflowResult} "执行结果"
// @Failure 409 {object} Response "工作流正在运行"
// @Router /v1/workflows/{id}/execute [post]
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req ExecuteWorkflowRequest
	if err := decodeJSON(w, r, &req); err != nil && !isEmptyBody(err) {
		WriteError(w, err, h.logger)
		return
	}

	result := h.service.ExecuteWorkflow(r.Context(), r.PathValue("id"), ownerID, req.Input)
	if result.RunID == "" {
		WriteError(w, rejection(result), h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, Response{
		Success:   result.Success,
		Data:      result,
		Timestamp: result.StartedAt,
	})
}

// HandleRuns 列出最近的执行记录
// @Summary 执行历史
// @Tags workflow
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} Response{data=[]workflow.WorkflowResult} "执行记录"
// @Router /v1/workflows/{id}/runs [get]
func (h *WorkflowHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.ownedWorkflow(w, r)
	if !ok {
		return
	}
	runs := h.service.Runs(wf.ID)
	if runs == nil {
		runs = []*workflow.WorkflowResult{}
	}
	WriteSuccess(w, runs)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// owner 从请求上下文读取用户 ID，缺失时返回 401
func (h *WorkflowHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, ok := types.OwnerID(r.Context())
	if !ok || ownerID == "" {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "owner identity is required", h.logger)
		return "", false
	}
	return ownerID, true
}

// ownedWorkflow 读取路径中的工作流并校验归属；他人的工作流按不存在处理
func (h *WorkflowHandler) ownedWorkflow(w http.ResponseWriter, r *http.Request) (*workflow.Workflow, bool) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return nil, false
	}
	id := r.PathValue("id")
	wf, found := h.service.GetWorkflow(r.Context(), id)
	if !found || wf.OwnerID != ownerID {
		WriteError(w, types.NewNotFoundError("workflow not found: "+id), h.logger)
		return nil, false
	}
	return wf, true
}

// rejection 将未开始执行的结果转换为 API 错误
func rejection(result *workflow.WorkflowResult) *types.Error {
	code := result.ErrorCode
	if code == "" {
		code = types.ErrInternalError
	}
	return types.NewError(code, result.Error)
}
