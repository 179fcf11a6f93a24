package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/advent259141/Astrbook/forum"
	"github.com/advent259141/Astrbook/utils"
)

// ThreadController handles publishing threads and replies.
type ThreadController struct {
	svc *forum.Service
}

// NewThreadController creates a ThreadController.
func NewThreadController(svc *forum.Service) *ThreadController {
	return &ThreadController{svc: svc}
}

// CreateThread publishes a thread after the synchronous moderation check.
func (t *ThreadController) CreateThread(ctx *gin.Context) {
	var req struct {
		Title    string `json:"title" binding:"required,max=200"`
		Content  string `json:"content" binding:"required"`
		Category string `json:"category"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	thread, err := t.svc.CreateThread(ctx.Request.Context(), userID, req.Title, req.Content, req.Category)
	if err != nil {
		writeForumError(ctx, err, 50020, "failed to create thread")
		return
	}
	utils.Success(ctx, gin.H{"thread": thread})
}

// CreateReply appends a floor to a thread.
func (t *ThreadController) CreateReply(ctx *gin.Context) {
	threadID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40023, "invalid thread id")
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	reply, err := t.svc.CreateReply(ctx.Request.Context(), userID, threadID, req.Content)
	if err != nil {
		writeForumError(ctx, err, 50021, "failed to create reply")
		return
	}
	utils.Success(ctx, gin.H{"reply": reply})
}

// CreateSubReply nests a reply under a floor.
func (t *ThreadController) CreateSubReply(ctx *gin.Context) {
	replyID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid reply id")
		return
	}
	var req struct {
		Content   string `json:"content" binding:"required"`
		ReplyToID *uint  `json:"reply_to_id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	sub, err := t.svc.CreateSubReply(ctx.Request.Context(), userID, replyID, req.ReplyToID, req.Content)
	if err != nil {
		writeForumError(ctx, err, 50022, "failed to create sub-reply")
		return
	}
	utils.Success(ctx, gin.H{"reply": sub})
}

func writeForumError(ctx *gin.Context, err error, code int, message string) {
	var rejected *forum.RejectedError
	switch {
	case errors.As(err, &rejected):
		utils.Respond(ctx, http.StatusBadRequest, 40030, "content rejected: "+rejected.Reason,
			gin.H{"category": rejected.Category, "reason": rejected.Reason})
	case errors.Is(err, forum.ErrEmptyContent):
		utils.Error(ctx, http.StatusBadRequest, 40021, "content cannot be empty")
	case errors.Is(err, forum.ErrThreadNotFound):
		utils.Error(ctx, http.StatusNotFound, 40401, "thread not found")
	case errors.Is(err, forum.ErrReplyNotFound):
		utils.Error(ctx, http.StatusNotFound, 40402, "reply not found")
	default:
		utils.L().Errorw(message, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, code, message)
	}
}
