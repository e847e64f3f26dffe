package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/Real-vivek09/collabkart/directory"
	"github.com/Real-vivek09/collabkart/notify"
	"github.com/Real-vivek09/collabkart/store"
)

// Messages above this size would not fit a notice; refuse them up front.
const maxContentBytes = 4096

type sendMessageReq struct {
	ReceiverUID string `json:"receiverUid"`
	Content     string `json:"content"`
	ProjectID   string `json:"projectId"`
}

// ConversationSummary is one entry of the conversation listing: the
// newest message of a pair plus the resolved profiles of both sides.
type ConversationSummary struct {
	*store.Message
	ParticipantDetails []*directory.Profile `json:"participantDetails"`
}

func (s *Server) sendMessage(c *gin.Context) {
	id := identity(c)

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Malformed request body."})
		return
	}
	if len(req.Content) > maxContentBytes {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Content is too long."})
		return
	}

	msg, err := s.store.SaveMessage(c.Request.Context(), id.UID, req.ReceiverUID, req.Content, req.ProjectID)
	if err != nil {
		if store.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Receiver UID and content are required."})
			return
		}
		glog.Errorf("send message: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to send message."})
		return
	}

	// The message is durable; a failed publish costs a notification,
	// never the send.
	notice := &notify.Notice{
		Message:    msg,
		Recipient:  msg.Recipient(),
		SenderName: id.Name,
	}
	if err := s.producer.Publish(c.Request.Context(), notice); err != nil {
		glog.Errorf("publish notice for message %d: %v", msg.ID, err)
	}

	c.JSON(http.StatusCreated, msg)
}

func (s *Server) getConversationMessages(c *gin.Context) {
	id := identity(c)
	otherUID := c.Param("otherUid")

	msgs, err := s.store.GetMessages(c.Request.Context(), id.UID, otherUID)
	if err != nil {
		glog.Errorf("get messages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch messages."})
		return
	}

	c.JSON(http.StatusOK, msgs)
}

func (s *Server) listConversations(c *gin.Context) {
	id := identity(c)

	msgs, err := s.store.ListConversations(c.Request.Context(), id.UID)
	if err != nil {
		glog.Errorf("list conversations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch conversations."})
		return
	}

	profiles := make(map[string]*directory.Profile)
	summaries := make([]*ConversationSummary, 0, len(msgs))
	for _, msg := range msgs {
		summary := &ConversationSummary{Message: msg}
		for _, uid := range msg.Participants {
			summary.ParticipantDetails = append(summary.ParticipantDetails, s.lookupProfile(c, profiles, uid))
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, summaries)
}

// lookupProfile resolves uid through the directory, once per request.
// A missing record degrades to a uid-only stub; the listing must not
// fail because a participant deleted their account.
func (s *Server) lookupProfile(c *gin.Context, cache map[string]*directory.Profile, uid string) *directory.Profile {
	if p, ok := cache[uid]; ok {
		return p
	}

	p, err := s.dir.FindProfile(c.Request.Context(), uid)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			glog.Errorf("find profile %s: %v", uid, err)
		}
		p = &directory.Profile{UID: uid}
	}

	cache[uid] = p
	return p
}
