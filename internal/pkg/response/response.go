package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeConflict         = 1005
	CodeNotCancellable   = 1006
	CodeRateLimited      = 1007
	CodeServerError      = 5000
	CodeUpstreamError    = 5002
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeConflict:         "状态冲突",
	CodeNotCancellable:   "任务已结束",
	CodeRateLimited:      "请求过于频繁",
	CodeServerError:      "服务器内部错误",
	CodeUpstreamError:    "翻译服务不可用",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构，区间为闭区间
type PageData struct {
	Total int64       `json:"total"`
	Start int         `json:"start"`
	End   int         `json:"end"`
	Items interface{} `json:"items"`
}

// FieldError 校验失败时附带的字段
type FieldError struct {
	Field string `json:"field"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, start, end int, items interface{}) {
	Success(c, PageData{
		Total: total,
		Start: start,
		End:   end,
		Items: items,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	errorWithData(c, code, message, nil)
}

func errorWithData(c *gin.Context, code int, message string, data interface{}) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, CodeAuthFailed, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// Code 将错误分类映射为响应码
func Code(err error) int {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, apperr.ErrValidation):
		return CodeParamError
	case errors.Is(err, apperr.ErrNotCancellable):
		return CodeNotCancellable
	case errors.Is(err, apperr.ErrNotFound):
		return CodeResourceNotFound
	case errors.Is(err, apperr.ErrConflict):
		return CodeConflict
	case errors.Is(err, apperr.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, apperr.ErrUpstream):
		return CodeUpstreamError
	default:
		return CodeServerError
	}
}

// FromError 按错误分类返回，消息只使用可展示给用户的文本
func FromError(c *gin.Context, err error) {
	code := Code(err)
	if code == CodeServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}

	var data interface{}
	if field := apperr.FieldOf(err); field != "" && code == CodeParamError {
		data = FieldError{Field: field}
	}
	errorWithData(c, code, apperr.UserMessage(err), data)
}
