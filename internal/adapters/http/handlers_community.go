package http

import (
	"net/http"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/gin-gonic/gin"
)

type newsRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type communityRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type subscriptionRequest struct {
	Endpoint string                  `json:"endpoint" binding:"required"`
	Keys     domain.SubscriptionKeys `json:"keys"`
}

func (h *handlers) listNews(c *gin.Context) {
	news, err := h.News.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, news)
}

func (h *handlers) publishNews(c *gin.Context) {
	var req newsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	n, err := h.News.Publish(c.Request.Context(), currentUser(c), req.Title, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *handlers) subscribe(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if _, err := h.Subscriptions.Subscribe(c.Request.Context(), req.Endpoint, req.Keys); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Subscription saved."})
}

func (h *handlers) listCommunities(c *gin.Context) {
	list, err := h.Communities.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) getCommunity(c *gin.Context) {
	community, err := h.Communities.Get(c.Request.Context(), domain.CommunityID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, community)
}

func (h *handlers) createCommunity(c *gin.Context) {
	var req communityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	community, err := h.Communities.Create(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, community)
}

func (h *handlers) communityDiscussions(c *gin.Context) {
	list, err := h.Communities.Discussions(c.Request.Context(), domain.CommunityID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) joinCommunity(c *gin.Context) {
	u, err := h.Accounts.JoinCommunity(c.Request.Context(), currentUser(c).ID, domain.CommunityID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
