package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"entity-admin/internal/core/cache"
	"entity-admin/internal/csvimport"
	"entity-admin/internal/domain"
	"entity-admin/internal/service"
	"entity-admin/internal/transport/http/ez"
	"entity-admin/pkg/utils"
)

type UserHandler struct {
	svc       *service.UserService
	pipeline  *csvimport.Pipeline
	cache     *cache.Cache
	uploadDir string // 为空时上传文件只在内存里处理
	log       *zap.Logger
}

func NewUserHandler(svc *service.UserService, p *csvimport.Pipeline, c *cache.Cache, uploadDir string, l *zap.Logger) *UserHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &UserHandler{svc: svc, pipeline: p, cache: c, uploadDir: uploadDir, log: l.With(zap.String("handler", "users"))}
}

type idURI struct {
	ID uint `uri:"id" binding:"required"`
}

type uuidURI struct {
	UUID string `uri:"uuid" binding:"required"`
}

type emailURI struct {
	Email string `uri:"email" binding:"required"`
}

// Mount 挂在已鉴权的 /users 分组上
func (h *UserHandler) Mount(g *gin.RouterGroup) {
	e := ez.New(g)

	e.GET("", func(c *gin.Context) (any, error) {
		return cached(c.Request.Context(), h.cache, h.key("all"), h.svc.GetAll)
	})

	ez.POSTFILE(e, "/import", "file", h.importFile)

	g.GET("/export", h.export)

	ez.RegisterAction(e, ez.Action[idURI, *domain.User]{
		Method: http.MethodGet,
		Path:   "/:id",
		Binder: ez.BindURI,
		Handler: func(c *gin.Context, in *idURI) (*domain.User, error) {
			return h.svc.GetById(c.Request.Context(), in.ID)
		},
	})

	ez.RegisterAction(e, ez.Action[uuidURI, *domain.User]{
		Method: http.MethodGet,
		Path:   "/uuid/:uuid",
		Binder: ez.BindURI,
		Handler: func(c *gin.Context, in *uuidURI) (*domain.User, error) {
			return cached(c.Request.Context(), h.cache, h.key("uuid", in.UUID), func(ctx context.Context) (*domain.User, error) {
				return h.svc.GetByUuid(ctx, in.UUID)
			})
		},
	})

	ez.RegisterAction(e, ez.Action[emailURI, *domain.User]{
		Method: http.MethodGet,
		Path:   "/email/:email",
		Binder: ez.BindURI,
		Handler: func(c *gin.Context, in *emailURI) (*domain.User, error) {
			u, ok, err := h.svc.GetByEmail(c.Request.Context(), in.Email)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, domain.NotFound("%s does not exist!", h.svc.Collection())
			}
			return u, nil
		},
	})

	ez.RegisterAction(e, ez.Action[domain.QueryOptions, domain.PaginatedResult[domain.User]]{
		Method: http.MethodPost,
		Path:   "/find",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.QueryOptions) (domain.PaginatedResult[domain.User], error) {
			return h.svc.FindByQuery(c.Request.Context(), *in)
		},
	})

	ez.RegisterAction(e, ez.Action[domain.CreateUserDTO, *domain.User]{
		Method: http.MethodPost,
		Path:   "",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.CreateUserDTO) (*domain.User, error) {
			u, err := h.svc.Create(c.Request.Context(), *in)
			if err == nil {
				purge(c.Request.Context(), h.cache, h.log)
			}
			return u, err
		},
	})

	ez.RegisterAction(e, ez.Action[domain.UpdateUserDTO, *domain.User]{
		Method: http.MethodPut,
		Path:   "/:uuid",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.UpdateUserDTO) (*domain.User, error) {
			u, err := h.svc.Update(c.Request.Context(), c.Param("uuid"), *in)
			if err == nil {
				purge(c.Request.Context(), h.cache, h.log)
			}
			return u, err
		},
	})

	ez.RegisterAction(e, ez.Action[struct{}, *domain.User]{
		Method: http.MethodDelete,
		Path:   "/:uuid",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.User, error) {
			u, err := h.svc.Delete(c.Request.Context(), c.Param("uuid"))
			if err == nil {
				purge(c.Request.Context(), h.cache, h.log)
			}
			return u, err
		},
	})

	ez.RegisterAction(e, ez.Action[domain.DeleteManyDTO, domain.DeleteManyResult]{
		Method: http.MethodDelete,
		Path:   "",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.DeleteManyDTO) (domain.DeleteManyResult, error) {
			res, err := h.svc.DeleteMany(c.Request.Context(), in.UUIDs)
			if err == nil {
				purge(c.Request.Context(), h.cache, h.log)
			}
			return res, err
		},
	})
}

func (h *UserHandler) key(parts ...string) string {
	if h.cache == nil {
		return ""
	}
	return h.cache.Key(append([]string{h.svc.Collection()}, parts...)...)
}

func (h *UserHandler) importFile(c *gin.Context, fh *multipart.FileHeader) (any, error) {
	ctx := c.Request.Context()
	h.log.Info("users: import", zap.String("file", fh.Filename), zap.Int64("size", fh.Size))

	rows, err := h.readRows(c, fh)
	if err != nil {
		return nil, err
	}
	dtos, err := csvimport.Decode[domain.CreateUserDTO](rows)
	if err != nil {
		return nil, domain.InvalidArgument("invalid csv: %v", err)
	}
	res, err := h.svc.Import(ctx, dtos)
	if err != nil {
		return nil, err
	}
	if res.CreatedCount > 0 {
		purge(ctx, h.cache, h.log)
	}
	return res, nil
}

// readRows 配了 upload.dir 就落盘走文件管道（处理完删除），否则读进内存
func (h *UserHandler) readRows(c *gin.Context, fh *multipart.FileHeader) ([]csvimport.Row, error) {
	ctx := c.Request.Context()
	if h.uploadDir != "" {
		if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
			return nil, fmt.Errorf("users import: upload dir: %w", err)
		}
		dst := filepath.Join(h.uploadDir, utils.NewID()+".csv")
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			return nil, fmt.Errorf("users import: save upload: %w", err)
		}
		rows, err := h.pipeline.FromFile(ctx, dst)
		if err != nil {
			return nil, domain.InvalidArgument("invalid csv: %v", err)
		}
		return rows, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("users import: open upload: %w", err)
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("users import: read upload: %w", err)
	}
	rows, err := h.pipeline.FromBuffer(ctx, buf)
	if err != nil {
		return nil, domain.InvalidArgument("invalid csv: %v", err)
	}
	return rows, nil
}

func (h *UserHandler) export(c *gin.Context) {
	out, err := h.svc.Export(c.Request.Context())
	if err != nil {
		ez.Fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, h.svc.Collection()))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(out))
}
