package response

import (
	"encoding/json"
	"net/http"
)

// BaseResponse 统一的API响应结构
type BaseResponse struct {
	Code       int    `json:"code"`            // 业务状态码
	Message    string `json:"message"`         // 响应消息
	Data       any    `json:"data,omitempty"`  // 响应数据
	Error      string `json:"error,omitempty"` // 错误信息
	HTTPStatus int    `json:"-"`               // HTTP 状态码（可选，默认与 Code 相同）
}

// Success 创建成功响应
func Success(data any) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	}
}

// BadRequest 创建错误请求响应
func BadRequest(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusBadRequest,
		Message: "bad request",
		Error:   error,
	}
}

// InternalError 创建内部服务器错误响应
func InternalError(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusInternalServerError,
		Message: "internal server error",
		Error:   error,
	}
}

// ServiceUnavailable 创建服务不可用响应
func ServiceUnavailable(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusServiceUnavailable,
		Message: "service unavailable",
		Error:   error,
	}
}

// WriteJSON 将响应写入 http.ResponseWriter
func (r *BaseResponse) WriteJSON(w http.ResponseWriter) {
	status := r.HTTPStatus
	if status == 0 {
		status = r.Code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(r)
}
