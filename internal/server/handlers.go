package server

import (
	"context"
	"net/http"
	"strconv"

	"kiro-broker/internal/admin"
	"kiro-broker/internal/apierrors"
	"kiro-broker/internal/cloudpass"
	"kiro-broker/internal/constants"
	"kiro-broker/internal/credential"
	"kiro-broker/internal/events"
	"kiro-broker/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type handlers struct {
	service   *admin.Service
	hub       *events.Hub
	cloudPass *cloudpass.State
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		apierrors.Abort(c, apierrors.New(apierrors.InvalidInput, "invalid credential id"))
		return 0, false
	}
	return id, true
}

func (h *handlers) listCredentials(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetAllCredentials())
}

func (h *handlers) addCredential(c *gin.Context) {
	var req credential.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Abort(c, apierrors.New(apierrors.InvalidInput, "malformed request body: "+err.Error()))
		return
	}

	id, err := h.service.AddCredential(c.Request.Context(), req)
	if err != nil {
		apierrors.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *handlers) deleteCredential(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteCredential(id); err != nil {
		apierrors.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type disabledRequest struct {
	Disabled bool `json:"disabled"`
}

func (h *handlers) setDisabled(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req disabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Abort(c, apierrors.New(apierrors.InvalidInput, "malformed request body: "+err.Error()))
		return
	}
	if err := h.service.SetDisabled(id, req.Disabled); err != nil {
		apierrors.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type priorityRequest struct {
	Priority uint32 `json:"priority"`
}

func (h *handlers) setPriority(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Abort(c, apierrors.New(apierrors.InvalidInput, "malformed request body: "+err.Error()))
		return
	}
	if err := h.service.SetPriority(id, req.Priority); err != nil {
		apierrors.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) resetCredential(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.ResetAndEnable(id); err != nil {
		apierrors.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) getBalance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	payload, err := h.service.GetBalance(c.Request.Context(), id)
	if err != nil {
		apierrors.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *handlers) getLoadBalancingMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": h.service.LoadBalancingMode()})
}

type loadBalancingModeRequest struct {
	Mode string `json:"mode"`
}

func (h *handlers) setLoadBalancingMode(c *gin.Context) {
	var req loadBalancingModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Abort(c, apierrors.New(apierrors.InvalidInput, "malformed request body: "+err.Error()))
		return
	}
	if err := h.service.SetLoadBalancingMode(req.Mode); err != nil {
		apierrors.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) cloudPassStatus(c *gin.Context) {
	if h.cloudPass == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, h.cloudPass.Snapshot())
}

func (h *handlers) cloudPassTriggerRefresh(c *gin.Context) {
	if h.cloudPass == nil {
		apierrors.Abort(c, apierrors.New(apierrors.InvalidInput, "cloud pass is not configured"))
		return
	}
	h.cloudPass.TriggerRefresh()
	c.Status(http.StatusAccepted)
}

// logsStream upgrades to a websocket and streams structured log lines as
// they are emitted process-wide, independent of the domain-event feed on
// /events — this is a raw log tail for operators, not a pool-state feed.
func (h *handlers) logsStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wsLogger := logging.GetWSLogger()
	if err := wsLogger.AddClient(conn); err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	defer wsLogger.RemoveClient(conn)

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": constants.GetVersion()})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// events upgrades to a websocket and streams pool/cloud-pass events as they
// are published on the hub, for an admin UI to render a live feed instead of
// polling the snapshot endpoints.
func (h *handlers) events(c *gin.Context) {
	if h.hub == nil {
		apierrors.Abort(c, apierrors.New(apierrors.Internal, "event hub not configured"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	topics := []events.Topic{
		events.TopicCredentialAdded,
		events.TopicCredentialDisabled,
		events.TopicCredentialEnabled,
		events.TopicCredentialDeleted,
		events.TopicCredentialRotated,
		events.TopicCloudPassStatus,
	}

	outgoing := make(chan events.Event, 32)
	var unsubscribers []func()
	for _, topic := range topics {
		unsub := h.hub.Subscribe(topic, func(_ context.Context, ev events.Event) {
			select {
			case outgoing <- ev:
			default:
			}
		})
		unsubscribers = append(unsubscribers, unsub)
	}
	defer func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}()

	// Detect client disconnects so the write loop can exit.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-outgoing:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
