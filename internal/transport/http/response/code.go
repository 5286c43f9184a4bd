package response

import "net/http"

// 常见业务 系统级错误码（直接基于 HTTP 语义）
const (
	CodeOK             = 0
	CodeBadRequest     = 400
	CodeUnauthorized   = 401
	CodeForbidden      = 403
	CodeNotFound       = 404
	CodeConflict       = 409
	CodeTooLarge       = 413
	CodeServerError    = 500
	CodeUnavailable    = 503
	CodeGatewayTimeout = 504
)

// CodeMsgMap 用于集中管理 code - msg
var CodeMsgMap = map[int]string{
	CodeOK:             "OK",
	CodeBadRequest:     "Bad Request",
	CodeUnauthorized:   "Unauthorized",
	CodeForbidden:      "Forbidden",
	CodeNotFound:       "Not Found",
	CodeConflict:       "Conflict",
	CodeTooLarge:       "Request Entity Too Large",
	CodeServerError:    "Internal Server Error",
	CodeUnavailable:    "Service Unavailable",
	CodeGatewayTimeout: "Gateway Timeout",
}

// Status 业务码对应的 HTTP 状态码
func Status(code int) int {
	if code == CodeOK {
		return http.StatusOK
	}
	if code >= 400 && code <= 599 {
		return code
	}
	return http.StatusInternalServerError
}
