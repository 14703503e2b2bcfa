package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"weather_station/internal/engine"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK        = "ok"
	statusRequested = "requested"
	statusRefreshed = "refresh_requested"
	statusToggled   = "unit_toggled"
	statusCleared   = "cleared"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// respondWithStatusAndSnapshot includes the current engine snapshot so the
// caller can render without a second round trip.
func (h *Handler) respondWithStatusAndSnapshot(c *gin.Context, status string, extra gin.H) {
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	resp["snapshot"] = h.services.Weather.Snapshot()
	c.JSON(http.StatusOK, resp)
}

// Request DTO for requesting a city's weather.
type cityRequest struct {
	City string `json:"city" binding:"required"`
}

// RequestWeatherBody is an exported model for Swagger docs of the request payload.
type RequestWeatherBody struct {
	// City name, 2-50 characters: letters, spaces, hyphens, apostrophes
	City string `json:"city" example:"London"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Request weather for a city
// @Description  Serves a fresh cache entry directly; otherwise dispatches a network fetch. Duplicate in-flight requests for the same city are coalesced.
// @Tags         weather
// @Accept       json
// @Produce      json
// @Param        body  body   RequestWeatherBody  true  "City payload"
// @Success      200   {object}  map[string]interface{}  "status, snapshot"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/weather/request [post]
// @Security     BearerAuth
func (h *Handler) requestWeather(c *gin.Context) {
	var req cityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if err := h.services.Weather.RequestWeather(req.City); err != nil {
		if errors.Is(err, engine.ErrInvalidCityName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to request weather", "weather_request_failed", err, "city", req.City)
		return
	}
	h.respondWithStatusAndSnapshot(c, statusRequested, gin.H{"city": req.City})
}

// @Summary      Refresh the current city
// @Description  Invalidates the current city's cache entry and re-requests it.
// @Tags         weather
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/weather/refresh [post]
// @Security     BearerAuth
func (h *Handler) refreshWeather(c *gin.Context) {
	if err := h.services.Weather.Refresh(); err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to refresh", "weather_refresh_failed", err)
		return
	}
	h.respondWithStatusAndSnapshot(c, statusRefreshed, gin.H{})
}

// @Summary      Toggle display unit
// @Description  Flips between Celsius and Fahrenheit. No network or cache access.
// @Tags         weather
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/weather/unit [post]
// @Security     BearerAuth
func (h *Handler) toggleUnit(c *gin.Context) {
	h.services.Weather.ToggleUnit()
	h.respondWithStatusAndSnapshot(c, statusToggled, gin.H{})
}

// @Summary      Clear engine state
// @Description  Resets to Idle: record dropped, cache cleared, unit preference back to default.
// @Tags         weather
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/weather/clear [post]
// @Security     BearerAuth
func (h *Handler) clearWeather(c *gin.Context) {
	h.services.Weather.Clear()
	h.respondWithStatusAndSnapshot(c, statusCleared, gin.H{})
}

// @Summary      Get engine snapshot
// @Tags         weather
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/weather/snapshot [get]
// @Security     BearerAuth
func (h *Handler) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Weather.Snapshot())
}
