package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/site-journal/internal/attachment"
	"github.com/weiawesome/site-journal/internal/audit"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/service"
	"github.com/weiawesome/site-journal/pkg/log"
	"github.com/weiawesome/site-journal/pkg/middleware"
	"github.com/weiawesome/site-journal/pkg/response"
)

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 1 << 20

type HTTPHandler struct {
	chatService service.ChatService
	attachments *attachment.Service
}

// NewHTTPHandler builds the REST handler. attachments may be nil, in which
// case the attachment routes are not mounted.
func NewHTTPHandler(chatService service.ChatService, attachments *attachment.Service) *HTTPHandler {
	return &HTTPHandler{
		chatService: chatService,
		attachments: attachments,
	}
}

func (h *HTTPHandler) RegisterRoutes(api *gin.RouterGroup) {
	chats := api.Group("/chats")
	{
		chats.GET("", h.ListChats)
		chats.GET("/:object_id", h.GetChat)
		chats.GET("/:object_id/messages", h.GetMessages)
		chats.POST("/:object_id/messages", h.SendMessage)
		chats.POST("/:object_id/read", h.MarkRead)
	}

	if h.attachments != nil {
		chats.POST("/:object_id/attachments", h.UploadAttachment)
		api.GET("/attachments/url", h.ResolveAttachment)
	}
}

type sendMessageRequest struct {
	Author      string   `json:"author"`
	Body        string   `json:"body"`
	Attachment  string   `json:"attachment"`
	TaskIDs     []string `json:"task_ids"`
	ClientMsgID string   `json:"client_message_id"`
}

type markReadRequest struct {
	Author    string `json:"author"`
	MessageID string `json:"message_id"`
}

// ListChats returns chat overviews ordered by last activity.
func (h *HTTPHandler) ListChats(c *gin.Context) {
	viewer, err := resolveAuthor(middleware.GetUserID(c), c.Query("viewer"))
	if err != nil {
		respondError(c, err, "list chats failed")
		return
	}

	overviews, err := h.chatService.ListChatsOverview(c.Request.Context(), viewer)
	if err != nil {
		respondError(c, err, "list chats failed")
		return
	}
	response.Success(c, overviews)
}

func (h *HTTPHandler) GetChat(c *gin.Context) {
	chat, err := h.chatService.GetChat(c.Request.Context(), c.Param("object_id"))
	if err != nil {
		respondError(c, err, "get chat failed")
		return
	}
	response.Success(c, chat)
}

// GetMessages returns one page of history. Direction defaults to forward.
func (h *HTTPHandler) GetMessages(c *gin.Context) {
	q, err := parsePageQuery(c)
	if err != nil {
		respondError(c, err, "invalid page query")
		return
	}

	page, err := h.chatService.GetHistory(c.Request.Context(), c.Param("object_id"), q)
	if err != nil {
		respondError(c, err, "get messages failed")
		return
	}
	response.Success(c, page)
}

func parsePageQuery(c *gin.Context) (domain.PageQuery, error) {
	var q domain.PageQuery

	cursor, err := domain.DecodeCursor(c.Query("cursor"))
	if err != nil {
		return q, err
	}
	q.Cursor = cursor

	q.Direction, err = domain.ParseDirection(c.Query("direction"))
	if err != nil {
		return q, err
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return q, domain.Validationf("limit must be a positive integer")
		}
		q.Limit = limit
	}
	return q.Normalize(), nil
}

// SendMessage answers 201 for a new message and 200 for a repeated client id.
func (h *HTTPHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("invalid send message request")
		response.BadRequest(c, "invalid request body")
		return
	}

	author, err := resolveAuthor(middleware.GetUserID(c), req.Author)
	if err != nil {
		respondError(c, err, "send message rejected")
		return
	}

	result, err := h.chatService.SendMessage(ctx, c.Param("object_id"), domain.MessageDraft{
		AuthorID:    author,
		Body:        req.Body,
		Attachment:  req.Attachment,
		TaskIDs:     req.TaskIDs,
		ClientMsgID: req.ClientMsgID,
	}, service.SourceHTTP)
	if err != nil {
		respondError(c, err, "send message failed")
		return
	}

	if result.Duplicate {
		response.Success(c, result.Message)
		return
	}
	response.Created(c, result.Message)
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	author, err := resolveAuthor(middleware.GetUserID(c), req.Author)
	if err != nil {
		respondError(c, err, "mark read rejected")
		return
	}

	marker, err := h.chatService.MarkRead(c.Request.Context(), c.Param("object_id"), author, req.MessageID)
	if err != nil {
		respondError(c, err, "mark read failed")
		return
	}
	response.Success(c, marker)
}

// UploadAttachment stores a multipart "file" field and returns its handle.
func (h *HTTPHandler) UploadAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	objectID := c.Param("object_id")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.attachments.MaxUploadBytes()+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(c, attachment.ErrTooLarge, "attachment too large")
			return
		}
		response.BadRequest(c, "file is required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, err, "open upload failed")
		return
	}
	defer f.Close()

	up, err := h.attachments.Upload(ctx, objectID, fh.Filename, fh.Header.Get("Content-Type"), f, fh.Size)
	if err != nil {
		respondError(c, err, "upload attachment failed")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionUpload, middleware.GetUserID(c), objectID, up.Handle, "attachment uploaded")
	response.Created(c, up)
}

func (h *HTTPHandler) ResolveAttachment(c *gin.Context) {
	handle := c.Query("handle")
	url, err := h.attachments.Resolve(c.Request.Context(), handle)
	if err != nil {
		respondError(c, err, "resolve attachment failed")
		return
	}
	response.Success(c, attachment.Upload{Handle: handle, URL: url})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
