package http

import (
	"net/http"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/app/orch"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/gin-gonic/gin"
)

type createDiscussionRequest struct {
	Title       string             `json:"title" binding:"required"`
	Content     string             `json:"content" binding:"required"`
	CommunityID domain.CommunityID `json:"communityId" binding:"required"`
	AuthorID    domain.UserID      `json:"authorId"`
}

type postMessageRequest struct {
	Content         string            `json:"content" binding:"required,max=4000"`
	AuthorID        domain.UserID     `json:"authorId"`
	ParentMessageID *domain.MessageID `json:"parentMessageId"`
}

type updateMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

func (h *handlers) createDiscussion(c *gin.Context) {
	var req createDiscussionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	author, err := actingAs(c, req.AuthorID)
	if err != nil {
		respondError(c, err)
		return
	}
	d, err := h.Threads.CreateDiscussion(c.Request.Context(), app.CreateDiscussionInput{
		Title:       req.Title,
		Content:     req.Content,
		CommunityID: req.CommunityID,
		AuthorID:    author,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *handlers) getDiscussion(c *gin.Context) {
	thread, err := h.Threads.GetDiscussion(c.Request.Context(), domain.DiscussionID(c.Param("id")), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *handlers) searchDiscussions(c *gin.Context) {
	found, err := h.Threads.Search(c.Request.Context(), c.Query("query"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// postMessage goes through the same ingest path as the websocket, so room
// members see messages posted over HTTP.
func (h *handlers) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	author, err := actingAs(c, req.AuthorID)
	if err != nil {
		respondError(c, err)
		return
	}
	msg, err := h.Orch.Ingest(c.Request.Context(), orch.IngestInput{
		DiscussionID:    domain.DiscussionID(c.Param("id")),
		Content:         req.Content,
		AuthorID:        author,
		ParentMessageID: req.ParentMessageID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) updateMessage(c *gin.Context) {
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	msg, err := h.Orch.UpdateMessage(c.Request.Context(), domain.MessageID(c.Param("id")), currentUser(c).ID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *handlers) deleteMessage(c *gin.Context) {
	u := currentUser(c)
	if err := h.Orch.DeleteMessage(c.Request.Context(), domain.MessageID(c.Param("id")), u.ID, u.Role); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
