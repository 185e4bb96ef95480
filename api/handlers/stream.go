package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentweave/types"
	"github.com/BaSui01/agentweave/workflow"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 WebSocket 事件流
// =============================================================================

const (
	// streamStartTimeout 连接建立后等待客户端发送启动消息的时间
	streamStartTimeout = 30 * time.Second
	// streamWriteTimeout 单条消息写超时
	streamWriteTimeout = 5 * time.Second
)

// StreamMessageType 流消息类型
type StreamMessageType string

const (
	StreamMessageEvent  StreamMessageType = "event"
	StreamMessageResult StreamMessageType = "result"
	StreamMessageError  StreamMessageType = "error"
)

// StreamMessage 服务端推送的消息
type StreamMessage struct {
	Type   StreamMessageType        `json:"type"`
	Event  *workflow.RunEvent       `json:"event,omitempty"`
	Result *workflow.WorkflowResult `json:"result,omitempty"`
	Error  *ErrorInfo               `json:"error,omitempty"`
}

// wsWriter 串行化 WebSocket 写操作，并行分支会并发发出事件
type wsWriter struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	broken bool
	logger *zap.Logger
}

func (ww *wsWriter) send(ctx context.Context, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stream message: %w", err)
	}

	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.broken {
		return errors.New("stream connection broken")
	}

	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := ww.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		ww.broken = true
		ww.logger.Debug("stream write failed", zap.Error(err))
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// HandleStream 通过 WebSocket 执行工作流并推送运行事件
//
// 默认模式：客户端连接后发送 {"input": ...}，服务端执行工作流，逐条推送
// event 消息，最后推送一条 result 消息并正常关闭。
// ?mode=watch：只订阅该工作流的事件，不触发执行，直到客户端断开。
// @Summary 工作流事件流
// @Tags workflow
// @Param id path string true "工作流 ID"
// @Param mode query string false "watch 表示仅旁观"
// @Router /v1/workflows/{id}/stream [get]
func (h *WorkflowHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.ownedWorkflow(w, r)
	if !ok {
		return
	}
	watch := r.URL.Query().Get("mode") == "watch"
	if watch && h.hub == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "event streaming is not enabled", h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ww := &wsWriter{conn: conn, logger: h.logger}
	if watch {
		h.watch(r.Context(), conn, ww, wf)
		return
	}
	h.runStreamed(r.Context(), conn, ww, wf)
}

// runStreamed 读取启动消息后执行工作流
func (h *WorkflowHandler) runStreamed(ctx context.Context, conn *websocket.Conn, ww *wsWriter, wf *workflow.Workflow) {
	startCtx, cancel := context.WithTimeout(ctx, streamStartTimeout)
	_, data, err := conn.Read(startCtx)
	cancel()
	if err != nil {
		h.logger.Debug("stream start message not received", zap.String("workflow_id", wf.ID), zap.Error(err))
		conn.Close(websocket.StatusPolicyViolation, "start message required")
		return
	}

	var req ExecuteWorkflowRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			_ = ww.send(ctx, StreamMessage{Type: StreamMessageError, Error: &ErrorInfo{
				Code:    string(types.ErrInvalidRequest),
				Message: "invalid start message",
			}})
			conn.Close(websocket.StatusUnsupportedData, "invalid start message")
			return
		}
	}

	// 客户端断开时取消执行
	runCtx := conn.CloseRead(ctx)
	runCtx = workflow.WithRunEventEmitter(runCtx, func(ev workflow.RunEvent) {
		_ = ww.send(runCtx, StreamMessage{Type: StreamMessageEvent, Event: &ev})
	})

	result := h.service.ExecuteWorkflow(runCtx, wf.ID, wf.OwnerID, req.Input)
	if result.RunID == "" {
		apiErr := rejection(result)
		_ = ww.send(ctx, StreamMessage{Type: StreamMessageError, Error: &ErrorInfo{
			Code:    string(apiErr.Code),
			Message: apiErr.Message,
		}})
		conn.Close(websocket.StatusNormalClosure, "rejected")
		return
	}

	if err := ww.send(ctx, StreamMessage{Type: StreamMessageResult, Result: result}); err != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "completed")
}

// watch 转发 EventHub 中该工作流的事件
func (h *WorkflowHandler) watch(ctx context.Context, conn *websocket.Conn, ww *wsWriter, wf *workflow.Workflow) {
	events, unsubscribe := h.hub.Subscribe(wf.ID)
	defer unsubscribe()

	ctx = conn.CloseRead(ctx)
	h.logger.Debug("stream watcher attached", zap.String("workflow_id", wf.ID))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := ww.send(ctx, StreamMessage{Type: StreamMessageEvent, Event: &ev}); err != nil {
				return
			}
		}
	}
}
