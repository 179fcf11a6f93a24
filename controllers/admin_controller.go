package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/moderation"
	"github.com/advent259141/Astrbook/settings"
	"github.com/advent259141/Astrbook/utils"
)

// ClassifierTools are the endpoint helpers behind the admin settings page.
type ClassifierTools interface {
	ListModels(ctx context.Context, apiBase, apiKey string) ([]string, error)
	Probe(ctx context.Context, s moderation.Settings, content string) (*moderation.ProbeResult, error)
}

// AdminController manages moderation settings and audit data.
type AdminController struct {
	db        *gorm.DB
	store     *settings.Store
	cache     *moderation.ConfigCache
	tools     ClassifierTools
	scheduler *moderation.Scheduler
}

// NewAdminController creates an AdminController.
func NewAdminController(db *gorm.DB, store *settings.Store, cache *moderation.ConfigCache, tools ClassifierTools, scheduler *moderation.Scheduler) *AdminController {
	return &AdminController{db: db, store: store, cache: cache, tools: tools, scheduler: scheduler}
}

const maskRun = "****"

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + maskRun + key[len(key)-4:]
}

// isMaskedEcho reports whether incoming is the masked form handed out by GET
// rather than a new key.
func isMaskedEcho(incoming, stored string) bool {
	if incoming == "" {
		return false
	}
	return incoming == maskKey(stored) || strings.Contains(incoming, maskRun)
}

// GetModerationSettings returns the stored settings. The api key is masked.
func (a *AdminController) GetModerationSettings(ctx *gin.Context) {
	c := ctx.Request.Context()
	s, err := moderation.LoadSettings(c, a.store)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to load settings")
		return
	}
	utils.Success(ctx, gin.H{
		"enabled":        s.Enabled,
		"api_base":       s.APIBase,
		"api_key":        maskKey(s.APIKey),
		"api_key_set":    s.APIKey != "",
		"model":          s.Model,
		"prompt":         s.Prompt,
		"default_prompt": moderation.DefaultPrompt,
		"interval":       int(moderation.ScanInterval(c, a.store).Seconds()),
		"batch_size":     moderation.BatchSize(c, a.store),
		"scheduler":      a.scheduler.State().String(),
	})
}

// UpdateModerationSettings writes the provided fields and drops cached settings.
func (a *AdminController) UpdateModerationSettings(ctx *gin.Context) {
	var req struct {
		Enabled   *bool   `json:"enabled"`
		APIBase   *string `json:"api_base"`
		APIKey    *string `json:"api_key"`
		Model     *string `json:"model"`
		Prompt    *string `json:"prompt"`
		Interval  *int    `json:"interval"`
		BatchSize *int    `json:"batch_size"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	values := map[string]string{}
	if req.Enabled != nil {
		values[moderation.KeyEnabled] = strconv.FormatBool(*req.Enabled)
	}
	if req.APIBase != nil {
		values[moderation.KeyAPIBase] = strings.TrimSpace(*req.APIBase)
	}
	c := ctx.Request.Context()
	if req.APIKey != nil {
		key := strings.TrimSpace(*req.APIKey)
		stored, err := a.store.Get(c, moderation.KeyAPIKey, "")
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to load settings")
			return
		}
		if !isMaskedEcho(key, stored) {
			values[moderation.KeyAPIKey] = key
		}
	}
	if req.Model != nil {
		values[moderation.KeyModel] = strings.TrimSpace(*req.Model)
	}
	if req.Prompt != nil {
		if *req.Prompt != "" && !strings.Contains(*req.Prompt, moderation.PromptPlaceholder) {
			utils.Error(ctx, http.StatusBadRequest, 40031, "prompt must contain "+moderation.PromptPlaceholder)
			return
		}
		values[moderation.KeyPrompt] = *req.Prompt
	}
	if req.Interval != nil {
		if *req.Interval < int(moderation.MinInterval.Seconds()) {
			utils.Error(ctx, http.StatusBadRequest, 40032, "interval must be at least 10 seconds")
			return
		}
		values[moderation.KeyInterval] = strconv.Itoa(*req.Interval)
	}
	if req.BatchSize != nil {
		if *req.BatchSize < 1 || *req.BatchSize > moderation.MaxBatchSize {
			utils.Error(ctx, http.StatusBadRequest, 40033, "batch_size must be between 1 and 50")
			return
		}
		values[moderation.KeyBatchSize] = strconv.Itoa(*req.BatchSize)
	}
	if len(values) == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40034, "nothing to update")
		return
	}

	if err := a.store.SetMany(c, values); err != nil {
		utils.L().Errorw("update moderation settings failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to update settings")
		return
	}
	a.cache.Invalidate(c)
	utils.Success(ctx, gin.H{"updated": len(values)})
}

// ListModels queries the endpoint for model ids. Query parameters override stored values.
func (a *AdminController) ListModels(ctx *gin.Context) {
	c := ctx.Request.Context()
	s, err := moderation.LoadSettings(c, a.store)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to load settings")
		return
	}
	base := firstNonEmpty(ctx.Query("api_base"), s.APIBase)
	key := firstNonEmpty(ctx.Query("api_key"), s.APIKey)
	if key == "" {
		utils.Error(ctx, http.StatusBadRequest, 40035, "api key not configured")
		return
	}

	ids, err := a.tools.ListModels(c, base, key)
	if err != nil {
		utils.L().Warnw("list classifier models failed", "api_base", base, "error", err)
		utils.Error(ctx, http.StatusBadGateway, 50230, "failed to list models: "+err.Error())
		return
	}
	utils.Success(ctx, gin.H{"models": ids})
}

// TestModeration sends sample content through the classifier and returns the raw reply.
func (a *AdminController) TestModeration(ctx *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
		APIBase string `json:"api_base"`
		APIKey  string `json:"api_key"`
		Model   string `json:"model"`
		Prompt  string `json:"prompt"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	c := ctx.Request.Context()
	s, err := moderation.LoadSettings(c, a.store)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to load settings")
		return
	}
	s.APIBase = firstNonEmpty(req.APIBase, s.APIBase)
	if !isMaskedEcho(strings.TrimSpace(req.APIKey), s.APIKey) {
		s.APIKey = firstNonEmpty(req.APIKey, s.APIKey)
	}
	s.Model = firstNonEmpty(req.Model, s.Model)
	s.Prompt = firstNonEmpty(req.Prompt, s.Prompt)
	if s.APIKey == "" {
		utils.Error(ctx, http.StatusBadRequest, 40035, "api key not configured")
		return
	}

	res, err := a.tools.Probe(c, s, req.Content)
	if err != nil {
		utils.Error(ctx, http.StatusBadGateway, 50231, "classifier test failed: "+err.Error())
		return
	}
	utils.Success(ctx, res)
}

type moderationLogView struct {
	models.ModerationLog
	Username string `json:"username"`
}

// ListModerationLogs pages through the audit log, newest first.
func (a *AdminController) ListModerationLogs(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	query := a.db.WithContext(ctx.Request.Context()).Model(&models.ModerationLog{})
	if p := ctx.Query("passed"); p != "" {
		passed, err := strconv.ParseBool(p)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40036, "invalid passed filter")
			return
		}
		query = query.Where("passed = ?", passed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50032, "failed to count logs")
		return
	}
	var logs []models.ModerationLog
	if err := query.Order("created_at DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50033, "failed to list logs")
		return
	}

	names, err := a.usernames(ctx.Request.Context(), logs)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50033, "failed to list logs")
		return
	}
	items := make([]moderationLogView, len(logs))
	for i, l := range logs {
		items[i] = moderationLogView{ModerationLog: l, Username: names[l.UserID]}
	}
	utils.Success(ctx, utils.Page(items, page, pageSize, total))
}

func (a *AdminController) usernames(ctx context.Context, logs []models.ModerationLog) (map[uint]string, error) {
	ids := make([]uint, 0, len(logs))
	seen := map[uint]bool{}
	for _, l := range logs {
		if !seen[l.UserID] {
			seen[l.UserID] = true
			ids = append(ids, l.UserID)
		}
	}
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var users []models.User
	if err := a.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

// ModerationStats counts verdicts in the audit log.
func (a *AdminController) ModerationStats(ctx *gin.Context) {
	var rows []struct {
		Passed bool
		Count  int64
	}
	err := a.db.WithContext(ctx.Request.Context()).Model(&models.ModerationLog{}).
		Select("passed, COUNT(*) AS count").Group("passed").Scan(&rows).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50034, "failed to load stats")
		return
	}
	var passed, blocked int64
	for _, r := range rows {
		if r.Passed {
			passed = r.Count
		} else {
			blocked = r.Count
		}
	}
	utils.Success(ctx, gin.H{"total": passed + blocked, "passed": passed, "blocked": blocked})
}

// TriggerScan runs one moderation pass immediately.
func (a *AdminController) TriggerScan(ctx *gin.Context) {
	report, err := a.scheduler.RunOnce(ctx.Request.Context())
	if err != nil {
		utils.L().Errorw("manual moderation pass failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50035, "moderation pass failed")
		return
	}
	utils.Success(ctx, gin.H{"report": report})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
