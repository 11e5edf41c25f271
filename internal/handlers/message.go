package handlers

import (
	"context"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-core/internal/db"
	"chat-core/internal/media"
	"chat-core/internal/models"
	"chat-core/internal/services"
)

// MessageHandler serves the /messages and /upload endpoints.
type MessageHandler struct {
	messages services.Messages
}

func NewMessageHandler(messages services.Messages) *MessageHandler {
	return &MessageHandler{messages: messages}
}

type sendMessageRequest struct {
	ReceiverID   int64              `json:"receiver_id" binding:"required,gt=0"`
	ReceiverType string             `json:"receiver_type" binding:"required"`
	Body         *string            `json:"body"`
	MessageType  string             `json:"message_type"`
	Attachment   *models.Attachment `json:"attachment"`
	Location     *models.Location   `json:"location"`
	Audio        *models.AudioMeta  `json:"audio"`
	ReplyTo      *int64             `json:"reply_to_message_id"`
}

// Send posts a message to another account.
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receiverType, err := models.ParseAccountType(req.ReceiverType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msgType, ok := models.ParseMessageType(req.MessageType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown message type"})
		return
	}

	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	view, err := h.messages.Send(c.Request.Context(), tenant, actor, models.SendMessageRequest{
		Receiver:   models.Participant{ID: req.ReceiverID, Type: receiverType},
		Body:       req.Body,
		Type:       msgType,
		Attachment: req.Attachment,
		Location:   req.Location,
		Audio:      req.Audio,
		ReplyTo:    req.ReplyTo,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": view})
}

// Update edits the body of one of the caller's messages.
func (h *MessageHandler) Update(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	view, err := h.messages.Update(c.Request.Context(), tenant, id, actor, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": view})
}

// Delete removes a message for everyone when the sender asks, or hides it
// when the receiver asks.
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), tenant, id, actor); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req struct {
		MessageIDs []int64 `json:"message_ids" binding:"required,min=1,dive,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	marked, err := h.messages.MarkRead(c.Request.Context(), tenant, req.MessageIDs, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// Upload sends a multipart file as a file, image, video or audio message.
func (h *MessageHandler) Upload(c *gin.Context) {
	h.upload(c, "", h.messages.SendAttachment)
}

// UploadVoice sends a multipart recording as an audio message.
func (h *MessageHandler) UploadVoice(c *gin.Context) {
	h.upload(c, models.MessageAudio, h.messages.SendVoice)
}

type sendUpload func(ctx context.Context, h db.Handle, actor models.Actor, req services.AttachmentRequest) (models.MessageView, error)

func (h *MessageHandler) upload(c *gin.Context, forced models.MessageType, send sendUpload) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, media.MaxAttachmentBytes+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	req, err := attachmentRequest(c, fileHeader, forced)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()
	req.Upload.Reader = file

	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	view, err := send(c.Request.Context(), tenant, actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": view})
}

type formError string

func (e formError) Error() string { return string(e) }

func attachmentRequest(c *gin.Context, fh *multipart.FileHeader, forced models.MessageType) (services.AttachmentRequest, error) {
	receiverID, err := strconv.ParseInt(c.PostForm("receiver_id"), 10, 64)
	if err != nil || receiverID <= 0 {
		return services.AttachmentRequest{}, formError("receiver_id is required")
	}
	receiverType, err := models.ParseAccountType(c.PostForm("receiver_type"))
	if err != nil {
		return services.AttachmentRequest{}, err
	}

	req := services.AttachmentRequest{
		Receiver: models.Participant{ID: receiverID, Type: receiverType},
		Upload: media.Upload{
			Name:         fh.Filename,
			DeclaredMIME: fh.Header.Get("Content-Type"),
		},
		Type: forced,
	}
	if forced == "" && c.PostForm("message_type") != "" {
		t, ok := models.ParseMessageType(c.PostForm("message_type"))
		if !ok {
			return services.AttachmentRequest{}, formError("unknown message type")
		}
		req.Type = t
	}
	if caption := c.PostForm("body"); caption != "" {
		req.Caption = &caption
	}
	if raw := c.PostForm("reply_to_message_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return services.AttachmentRequest{}, formError("invalid reply_to_message_id")
		}
		req.ReplyTo = &id
	}
	if req.Type == models.MessageAudio {
		audio := &models.AudioMeta{Waveform: c.PostForm("waveform")}
		if raw := c.PostForm("duration"); raw != "" {
			d, err := strconv.Atoi(raw)
			if err != nil {
				return services.AttachmentRequest{}, formError("invalid duration")
			}
			audio.Duration = &d
		}
		req.Audio = audio
	}
	return req, nil
}
