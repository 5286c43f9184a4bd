package ez

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"entity-admin/internal/domain"
	resp "entity-admin/internal/transport/http/response"
)

type EZ struct{ g *gin.RouterGroup }

func New(g *gin.RouterGroup) EZ { return EZ{g: g} }

// 绑定方式
type Binder string

const (
	BindJSON  Binder = "json"  // 从 JSON 绑定
	BindQuery Binder = "query" // 从 URL ?a=b 绑定
	BindURI   Binder = "uri"   // 从路径参数绑定
	BindNone  Binder = "none"  // 不绑定，自己从 c.Param / c.PostForm 取
)

// CodeOf 错误 -> 业务码
func CodeOf(err error) int {
	var mbe *http.MaxBytesError
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExportEmpty):
		return resp.CodeNotFound
	case errors.Is(err, domain.ErrConflict):
		return resp.CodeConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return resp.CodeBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return resp.CodeUnauthorized
	case errors.As(err, &mbe):
		return resp.CodeTooLarge
	case errors.As(err, &verrs):
		return resp.CodeBadRequest
	default:
		return resp.CodeServerError
	}
}

// Fail 统一错误输出；5xx 不把底层错误暴露给客户端
func Fail(c *gin.Context, err error) {
	code := CodeOf(err)
	msg := domain.Message(err)
	if code == resp.CodeServerError {
		_ = c.Error(err)
		msg = ""
	}
	resp.JSON(c, resp.Error(code, msg))
}

func Success(c *gin.Context, data any) { resp.JSON(c, resp.OK(data)) }

func badRequest(c *gin.Context, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		resp.JSON(c, resp.Error(resp.CodeTooLarge, "request body too large"))
		return
	}
	resp.JSON(c, resp.Error(resp.CodeBadRequest, err.Error()))
}

func (e EZ) GET(path string, h func(c *gin.Context) (any, error)) {
	e.g.GET(path, func(c *gin.Context) {
		data, err := h(c)
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, data)
	})
}

// POSTFILE 处理 multipart/form-data 单文件上传
func POSTFILE(e EZ, path string, fieldName string, h func(c *gin.Context, file *multipart.FileHeader) (any, error)) {
	e.g.POST(path, func(c *gin.Context) {
		file, err := c.FormFile(fieldName)
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				resp.JSON(c, resp.Error(resp.CodeBadRequest, "no file uploaded"))
				return
			}
			badRequest(c, err)
			return
		}
		data, err := h(c, file)
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, data)
	})
}

// 动作定义：I 入参，O 出参
type Action[I any, O any] struct {
	Method  string // "GET" | "POST" | "PUT" | "DELETE"
	Path    string // 例："/auth/login"、"/users/:uuid"
	Binder  Binder // 绑定方式
	Handler func(c *gin.Context, in *I) (O, error)
}

// RegisterAction 在当前 EZ 下注册动作接口
func RegisterAction[I any, O any](e EZ, a Action[I, O]) {
	h := func(c *gin.Context) {
		var in I
		var bindErr error
		switch a.Binder {
		case BindJSON:
			bindErr = c.ShouldBindJSON(&in)
		case BindQuery:
			bindErr = c.ShouldBindQuery(&in)
		case BindURI:
			bindErr = c.ShouldBindUri(&in)
		default: // BindNone: 不绑定
		}
		if bindErr != nil {
			badRequest(c, bindErr)
			return
		}

		out, err := a.Handler(c, &in)
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, out)
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodPatch:
		e.g.PATCH(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default: // 默认 POST
		e.g.POST(a.Path, h)
	}
}
