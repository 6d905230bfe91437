package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/settings"
	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/store"
	gosync "github.com/nhle/localclaw/internal/sync"
)

const (
	defaultActivityLimit = 30
	defaultLogLines      = 50
	replyTimeout         = 2 * time.Minute
)

// Channels is the view of the poll loops the API needs.
type Channels interface {
	Statuses() []gosync.ChannelStatus
	Backend(channelID string) (source.Backend, bool)
	Trigger(channelID string) error
}

// Inference reports on the inference backend.
type Inference interface {
	Check(ctx context.Context) string
	Model() string
}

// Drafter generates a reply without sending it.
type Drafter interface {
	Draft(ctx context.Context, item model.Item) (string, bool)
}

// Handler serves the control API.
type Handler struct {
	store     *store.Store
	runtime   *settings.Runtime
	channels  Channels
	inference Inference
	drafter   Drafter
	logger    *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	st *store.Store,
	rt *settings.Runtime,
	channels Channels,
	inference Inference,
	drafter Drafter,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:     st,
		runtime:   rt,
		channels:  channels,
		inference: inference,
		drafter:   drafter,
		logger:    logger,
	}
}

// InferenceStatus reports the inference backend in a status report.
type InferenceStatus struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// StatusReport is the body of GET /status.
type StatusReport struct {
	Gateway       string                 `json:"gateway"`
	Identity      model.Identity         `json:"identity"`
	Inference     InferenceStatus        `json:"inference"`
	DryRun        bool                   `json:"dry_run"`
	Channels      []gosync.ChannelStatus `json:"channels"`
	Uptime        string                 `json:"uptime"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Stats         map[string]int64       `json:"stats"`
	Jobs          []settings.JobView     `json:"jobs"`
}

func (h *Handler) Status(c *gin.Context) {
	snap := h.store.Read()
	uptime := h.store.Uptime()

	c.JSON(http.StatusOK, StatusReport{
		Gateway:  "online",
		Identity: snap.Identity,
		Inference: InferenceStatus{
			Status: h.inference.Check(c.Request.Context()),
			Model:  h.inference.Model(),
		},
		DryRun:        h.runtime.DryRun(),
		Channels:      h.channels.Statuses(),
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Stats:         snap.Stats.Counters,
		Jobs:          h.runtime.Jobs(),
	})
}

func (h *Handler) Activity(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultActivityLimit)
	if !ok {
		return
	}
	activity := h.store.Activity(limit, c.Query("channel"))
	c.JSON(http.StatusOK, gin.H{"activity": activity, "count": len(activity)})
}

func (h *Handler) Logs(c *gin.Context) {
	n, ok := intQuery(c, "n", defaultLogLines)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": h.store.Logs(n)})
}

func (h *Handler) Senders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"senders": h.store.Senders()})
}

func (h *Handler) Memory(c *gin.Context) {
	snap := h.store.Read()
	c.JSON(http.StatusOK, gin.H{
		"memory":   snap.Memory,
		"senders":  snap.Senders,
		"identity": snap.Identity,
	})
}

type rememberRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *Handler) Remember(c *gin.Context) {
	var req rememberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	key, value := strings.TrimSpace(req.Key), strings.TrimSpace(req.Value)
	if key == "" || value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and value required"})
		return
	}

	if err := h.store.Remember(key, value); err != nil {
		h.logger.Error("Remember: persisting failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist memory"})
		return
	}
	h.logger.Info("memory updated", zap.String("key", key))
	c.JSON(http.StatusOK, gin.H{"ok": true, "key": key, "value": value})
}

func (h *Handler) Forget(c *gin.Context) {
	key := c.Param("key")
	if err := h.store.Forget(key); err != nil {
		h.logger.Error("Forget: persisting failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist memory"})
		return
	}
	h.logger.Info("memory deleted", zap.String("key", key))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type jobRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) UpdateJob(c *gin.Context) {
	id := c.Param("id")
	job, err := h.runtime.Job(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}

	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	job.SetEnabled(enabled)

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	h.logger.Info("job "+state, zap.String("job", id))
	c.JSON(http.StatusOK, gin.H{"ok": true, "job": job.View()})
}

type channelConfig struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	PollInterval int    `json:"poll_interval"`
	AutoReply    bool   `json:"auto_reply"`
	Enabled      bool   `json:"enabled"`
}

func (h *Handler) configView() gin.H {
	channels := make([]channelConfig, 0)
	for _, ch := range h.runtime.Channels() {
		channels = append(channels, channelConfig{
			ID:           ch.ID(),
			Type:         ch.Type(),
			PollInterval: int(ch.Interval() / time.Second),
			AutoReply:    ch.AutoReply(),
			Enabled:      h.runtime.ChannelEnabled(ch.ID()),
		})
	}
	snap := h.store.Read()
	return gin.H{
		"owner":          snap.Identity.Owner,
		"assistant_name": snap.Identity.Name,
		"model":          h.inference.Model(),
		"dry_run":        h.runtime.DryRun(),
		"channels":       channels,
	}
}

func (h *Handler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, h.configView())
}

type configRequest struct {
	DryRun       *bool  `json:"dry_run"`
	PollInterval *int   `json:"poll_interval"`
	AutoReply    *bool  `json:"auto_reply"`
	Channel      string `json:"channel"`
}

// UpdateConfig applies runtime changes. poll_interval and auto_reply
// target the named channel, or every channel when none is given. The
// request is validated in full before anything is applied.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	var targets []*settings.Channel
	if req.Channel != "" {
		ch, err := h.runtime.Channel(req.Channel)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
			return
		}
		targets = []*settings.Channel{ch}
	} else {
		targets = h.runtime.Channels()
	}

	var interval time.Duration
	if req.PollInterval != nil {
		interval = time.Duration(*req.PollInterval) * time.Second
		if interval < settings.MinPollInterval {
			c.JSON(http.StatusBadRequest, gin.H{"error": settings.ErrInvalidInterval.Error()})
			return
		}
	}

	if req.DryRun != nil {
		h.runtime.SetDryRun(*req.DryRun)
		h.logger.Info("dry run updated", zap.Bool("dry_run", *req.DryRun))
	}
	for _, ch := range targets {
		if req.PollInterval != nil {
			_ = ch.SetInterval(interval)
			h.logger.Info("poll interval updated", zap.String("channel", ch.ID()), zap.Duration("interval", interval))
		}
		if req.AutoReply != nil {
			ch.SetAutoReply(*req.AutoReply)
			h.logger.Info("auto reply updated", zap.String("channel", ch.ID()), zap.Bool("auto_reply", *req.AutoReply))
		}
	}

	view := h.configView()
	view["ok"] = true
	c.JSON(http.StatusOK, view)
}

type generateRequest struct {
	Channel string `json:"channel"`
	From    string `json:"from"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *Handler) GenerateReply(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body required"})
		return
	}

	reply, truncated := h.drafter.Draft(c.Request.Context(), model.Item{
		Channel: req.Channel,
		From:    req.From,
		Name:    req.Name,
		Subject: req.Subject,
		Body:    req.Body,
	})
	c.JSON(http.StatusOK, gin.H{"reply": reply, "truncated": truncated})
}

type replyRequest struct {
	Channel string `json:"channel"`
	ItemID  string `json:"item_id"`
	Target  string `json:"target"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	// Metadata carries backend-specific reply details such as message_id.
	Metadata map[string]string `json:"metadata"`
}

// Reply sends text through a channel regardless of its auto-reply flag.
func (h *Handler) Reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if req.Target == "" || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target and text required"})
		return
	}
	backend, ok := h.channels.Backend(req.Channel)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
		return
	}

	item := model.Item{
		ID:          req.ItemID,
		Channel:     req.Channel,
		From:        req.Target,
		Subject:     req.Subject,
		ReplyTarget: req.Target,
		Metadata:    req.Metadata,
	}

	// The send must not be cut short by the client going away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), replyTimeout)
	defer cancel()

	if err := backend.SendResponse(ctx, item, req.Text); err != nil {
		h.logger.Error("manual reply failed", zap.String("channel", req.Channel), zap.Error(err))
		status := http.StatusInternalServerError
		if source.IsTransient(err) || source.IsAuthError(err) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.IncrementStat(model.StatSent, 1); err != nil {
		h.logger.Warn("incrementing sent counter failed", zap.Error(err))
	}
	h.logger.Info("manual reply sent", zap.String("channel", req.Channel), zap.String("target", req.Target))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) Poll(c *gin.Context) {
	err := h.channels.Trigger(c.Param("id"))
	if errors.Is(err, settings.ErrUnknownChannel) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

// intQuery reads a positive integer query parameter, writing a 400 and
// returning false when it is malformed or below one.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}
