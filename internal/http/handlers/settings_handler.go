package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-history/internal/config"
)

// SettingsResponse shows the model settings in effect.
type SettingsResponse struct {
	Settings config.ModelSettings `json:"settings"`
	LoadedAt time.Time            `json:"loaded_at"`
}

// GetSettings godoc
// @ID       getSettings
// @Summary  Current model settings
// @Tags     Admin
// @Produce  json
// @Param    X-User-ID      header  string  true   "Caller identity"
// @Param    Authorization  header  string  false  "Bearer admin token when ADMIN_TOKEN is set"
// @Success  200  {object}  handlers.SettingsResponse
// @Router   /admin/settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	if h.settings == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "model settings not configured")
		return
	}
	ok(c, http.StatusOK, SettingsResponse{Settings: h.settings.Current(), LoadedAt: h.settings.LoadedAt()})
}

// RefreshSettings godoc
// @ID          refreshSettings
// @Summary     Reload model settings
// @Description Re-reads the settings file. A broken file keeps the previous settings and answers 422.
// @Tags        Admin
// @Produce     json
// @Param       X-User-ID      header  string  true   "Caller identity"
// @Param       Authorization  header  string  false  "Bearer admin token when ADMIN_TOKEN is set"
// @Success     200  {object}  handlers.SettingsResponse
// @Failure     422  {object}  handlers.ErrorResponse  "Settings file invalid"
// @Router      /admin/settings/refresh [post]
func (h *Handlers) RefreshSettings(c *gin.Context) {
	if h.settings == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "model settings not configured")
		return
	}
	if err := h.settings.Refresh(); err != nil {
		fail(c, http.StatusUnprocessableEntity, ErrCodeSettingsReload, err.Error())
		return
	}
	h.GetSettings(c)
}
