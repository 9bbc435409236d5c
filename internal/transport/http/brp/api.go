package brp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/johanhelsing/brp-relay/internal/infra/repository/history"
	"github.com/johanhelsing/brp-relay/internal/relay"
	"github.com/johanhelsing/brp-relay/internal/transport/http/util/response"
	"github.com/johanhelsing/brp-relay/internal/websocket"
	"github.com/sirupsen/logrus"
)

// maxRequestBody bounds a single JSON-RPC request body.
const maxRequestBody = 4 << 20

func RegisterRoutes(router *mux.Router, gw *relay.Gateway, broker *relay.Broker, ep *websocket.Endpoint, hist history.Repository, relayPath string) {
	api := NewAPI(gw, broker, hist)
	// 标准 BRP HTTP 端点（与 bevy_remote 的 HTTP transport 对齐）
	router.HandleFunc("/", api.handleCall).Methods("POST")
	router.HandleFunc("/brp", api.handleCall).Methods("POST")
	// 对端 WebSocket 接入
	router.HandleFunc(relayPath, ep.HandleWebSocket).Methods("GET")
	// 运维辅助接口
	router.HandleFunc("/relay/status", api.handleStatus).Methods("GET")
	router.HandleFunc("/relay/sessions", api.handleSessions).Methods("GET")
}

type API struct {
	gw      *relay.Gateway
	broker  *relay.Broker
	history history.Repository
}

func NewAPI(gw *relay.Gateway, broker *relay.Broker, hist history.Repository) *API {
	return &API{
		gw:      gw,
		broker:  broker,
		history: hist,
	}
}

// handleCall 处理一次 JSON-RPC 调用：带 +watch 后缀的方法以流式响应返回，
// 其余方法阻塞到回复到达为止
func (api *API) handleCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeReply(w, relay.ErrorReply(nil, relay.CodeParseError, "failed to read request body"))
		return
	}

	req, err := relay.ParseRequest(body)
	if err != nil {
		code, msg := rpcErrorFor(err)
		writeReply(w, relay.ErrorReply(nil, code, msg))
		return
	}

	if req.IsWatch() {
		api.streamWatch(w, r, req, body)
		return
	}

	rep, err := api.gw.Call(r.Context(), body)
	if err != nil {
		if r.Context().Err() != nil {
			// Caller went away; nothing left to answer.
			return
		}
		code, msg := rpcErrorFor(err)
		writeReply(w, relay.ErrorReply(req.ID, code, msg))
		return
	}
	writeReply(w, rep)
}

// streamWatch 以 chunked 编码将 watch 回复逐条（NDJSON）写回，直到流结束
// 或调用方断开
func (api *API) streamWatch(w http.ResponseWriter, r *http.Request, req *relay.Request, body []byte) {
	replies, err := api.gw.Watch(r.Context(), body)
	if err != nil {
		code, msg := rpcErrorFor(err)
		writeReply(w, relay.ErrorReply(req.ID, code, msg))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logrus.Error("Watch streaming requires a flushable response writer")
		writeReply(w, relay.ErrorReply(req.ID, relay.CodeInternalError, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for rep := range replies {
		if err := enc.Encode(rep); err != nil {
			// Client disconnect cancels r.Context(), which ends the watch.
			return
		}
		flusher.Flush()
	}
}

func (api *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	response.Success(StatusResponse{
		Connected:  api.broker.Connected(),
		Generation: api.broker.Generation(),
		Pending:    api.broker.Pending(),
	}).WriteJSON(w)
}

func (api *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		response.ServiceUnavailable("session history is disabled").WriteJSON(w)
		return
	}
	records, err := api.history.ListRecent(50)
	if err != nil {
		logrus.Errorf("Failed to list session history: %v", err)
		response.InternalError("failed to list session history: " + err.Error()).WriteJSON(w)
		return
	}
	response.Success(records).WriteJSON(w)
}

// writeReply 将 JSON-RPC 响应信封写回调用方。失败一律表达为信封内的
// error 字段，HTTP 状态保持 200
func writeReply(w http.ResponseWriter, rep *relay.Reply) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		logrus.Debugf("Failed to write JSON-RPC response: %v", err)
	}
}

// rpcErrorFor 把中继内部错误映射为 JSON-RPC 错误码
func rpcErrorFor(err error) (int, string) {
	var malformed *relay.MalformedFrameError
	switch {
	case errors.As(err, &malformed):
		return malformed.Code, malformed.Reason
	case errors.Is(err, relay.ErrNoSession):
		return relay.CodeNoSession, "no relay peer connected"
	case errors.Is(err, relay.ErrTimeout):
		return relay.CodeTimeout, "call timed out waiting for the relay peer"
	case errors.Is(err, relay.ErrDuplicateID):
		return relay.CodeInvalidRequest, "duplicate call id"
	case errors.Is(err, relay.ErrSessionLost):
		return relay.CodeInternalError, "relay session lost"
	default:
		return relay.CodeInternalError, err.Error()
	}
}
