// Guide HTTP handlers.
//
// This file exposes REST endpoints for guides:
//   - POST /guides                 (create, tags enriched by the tagging pipeline)
//   - POST /guides/{id}/retag      (regenerate tags, owner only)
//   - GET  /guides/popular-tags    (top tags across approved guides)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/services"
	"github.com/tbourn/anirum-backend/internal/utils"
)

// CreateGuideRequest is the JSON payload for creating a guide.
type CreateGuideRequest struct {
	// Title is required; whitespace is collapsed.
	Title    string   `json:"title"     binding:"required,max=1024"           example:"Drawing hands"`
	Text     string   `json:"text"      binding:"max=20000"                   example:"Start from the palm as a box."`
	ImageURL string   `json:"image_url" binding:"omitempty,url"               example:"https://cdn.anirum.ru/guides/hands.png"`
	Tags     []string `json:"tags"      binding:"omitempty,max=50,dive,max=64" example:"hands,anatomy"`
}

// PopularTagsResponse lists the most used tags.
type PopularTagsResponse struct {
	Tags []domain.TagCount `json:"tags"`
}

// guideFailure maps guide service errors to HTTP results.
func guideFailure(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrEmptyTitle):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title is required")
	case errors.Is(err, services.ErrTitleTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title is too long")
	case errors.Is(err, services.ErrGuideNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "guide not found")
	case errors.Is(err, services.ErrInvalidLimit):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 100")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, fallbackCode, "internal server error")
	}
}

// CreateGuide godoc
// @ID          createGuide
// @Summary     Create a guide
// @Description Creates a guide for the current user. Manual tags are kept first, then tags derived from the
// @Description image and the text are appended; tagging failures never fail the request.
// @Tags        Guides
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateGuideRequest  true  "Guide"
//
// @Success     201  {object}  domain.Guide
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /guides [post]
func (h *Handlers) CreateGuide(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var req CreateGuideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		code, msg := bindingMessage(err)
		fail(c, http.StatusBadRequest, code, msg)
		return
	}
	g, err := h.guideSvc.Create(c.Request.Context(), uid, services.NewGuide{
		Title:    req.Title,
		Text:     req.Text,
		ImageURL: req.ImageURL,
		Tags:     req.Tags,
	})
	if err != nil {
		guideFailure(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, g)
}

// RetagGuide godoc
// @ID          retagGuide
// @Summary     Regenerate guide tags
// @Description Re-runs the tagging pipeline for a guide owned by the current user, keeping existing tags first.
// @Tags        Guides
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Guide ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Guide
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Guide not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /guides/{id}/retag [post]
func (h *Handlers) RetagGuide(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "guide id must be a UUID")
		return
	}
	g, err := h.guideSvc.Retag(c.Request.Context(), uid, id)
	if err != nil {
		guideFailure(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, g)
}

// PopularTags godoc
// @ID          popularTags
// @Summary     Popular tags
// @Description Returns the most used tags across approved guides, most frequent first.
// @Tags        Guides
// @Produce     json
//
// @Param       limit  query  int  false  "Number of tags"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.PopularTagsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /guides/popular-tags [get]
func (h *Handlers) PopularTags(c *gin.Context) {
	limit, err := utils.ParseLimit(c.Query("limit"), services.DefaultPopularTags, services.MaxPopularTags)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be an integer between 1 and 100")
		return
	}
	tags, err := h.guideSvc.PopularTags(c.Request.Context(), limit)
	if err != nil {
		guideFailure(c, err, ErrCodeListFailed)
		return
	}
	if tags == nil {
		tags = []domain.TagCount{}
	}
	c.Header("Cache-Control", "public, max-age=60")
	ok(c, http.StatusOK, PopularTagsResponse{Tags: tags})
}
