package http

import (
	"errors"
	"mime/multipart"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	apperrors "coderev/internal/errors"
	"coderev/internal/httpclient"
	"coderev/internal/logging"
	"coderev/internal/review"
)

type handler struct {
	service        ReviewService
	maxUploadBytes int64
	logger         logging.Logger
}

func newHandler(service ReviewService, maxUploadBytes int64, logger logging.Logger) *handler {
	return &handler{service: service, maxUploadBytes: maxUploadBytes, logger: logger}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type refactorRequest struct {
	Code     string   `json:"code" binding:"required"`
	Language string   `json:"language" binding:"required"`
	Issues   []string `json:"issues"`
}

// errBadRequest marks input problems detected while reading the upload.
type errBadRequest struct {
	status int
	detail string
}

func (e *errBadRequest) Error() string { return e.detail }

func (h *handler) health(c *gin.Context) {
	if err := h.service.Ping(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (h *handler) review(c *gin.Context) {
	req, err := h.reviewRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	outcome, err := h.service.Review(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *handler) refactor(c *gin.Context) {
	var body refactorRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
		return
	}
	outcome, err := h.service.Refactor(c.Request.Context(), body.Code, body.Language, body.Issues)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *handler) reviewAndRefactor(c *gin.Context) {
	req, err := h.reviewRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	outcome, err := h.service.ReviewAndRefactor(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// reviewRequest reads the multipart upload and its language and focus fields.
func (h *handler) reviewRequest(c *gin.Context) (review.Request, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return review.Request{}, &errBadRequest{status: http.StatusUnprocessableEntity, detail: "file is required"}
	}

	code, err := h.readUpload(fileHeader)
	if err != nil {
		return review.Request{}, err
	}

	language := review.ResolveLanguage(c.PostForm("language"), fileHeader.Filename)
	if language == "" {
		return review.Request{}, review.ErrLanguageRequired
	}

	focus, err := review.ParseFocus(c.PostForm("focus"))
	if err != nil {
		return review.Request{}, err
	}

	return review.Request{Code: code, Language: language, Focus: focus}, nil
}

func (h *handler) readUpload(fileHeader *multipart.FileHeader) (string, error) {
	tooLarge := &errBadRequest{status: http.StatusRequestEntityTooLarge, detail: "file is too large"}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		return "", tooLarge
	}
	file, err := fileHeader.Open()
	if err != nil {
		return "", &errBadRequest{status: http.StatusBadRequest, detail: "cannot read uploaded file"}
	}
	defer file.Close()

	data, err := httpclient.ReadLimited(file, httpclient.BodyUpload, h.maxUploadBytes)
	if err != nil {
		if httpclient.IsBodyTooLarge(err) {
			return "", &errBadRequest{status: http.StatusRequestEntityTooLarge, detail: err.Error()}
		}
		return "", &errBadRequest{status: http.StatusBadRequest, detail: "cannot read uploaded file"}
	}
	if !utf8.Valid(data) {
		return "", &errBadRequest{status: http.StatusBadRequest, detail: "File must be UTF-8 encoded"}
	}
	return string(data), nil
}

// fail maps err onto a status code and a {"detail": ...} body.
func (h *handler) fail(c *gin.Context, err error) {
	var bad *errBadRequest
	switch {
	case errors.As(err, &bad):
		c.JSON(bad.status, errorResponse{Detail: bad.detail})
	case review.IsInputError(err):
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
	default:
		status := apperrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		}
		c.JSON(status, errorResponse{Detail: apperrors.Detail(err)})
	}
}
