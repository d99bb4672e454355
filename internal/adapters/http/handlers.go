package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/RemoteDesk/internal/app"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const lastSessionKey = "lastSession"

type apiHandlers struct {
	rdv     *app.Rendezvous
	catalog *permission.Catalog
}

func (a *apiHandlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (a *apiHandlers) createSession(c *gin.Context) {
	sid, err := a.rdv.CreateSession()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create session")
		c.JSON(http.StatusServiceUnavailable, errorBody(err))
		return
	}
	s := sessions.Default(c)
	s.Set(lastSessionKey, string(sid))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}
	log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Str("client", c.GetString(clientTokenKey)).Msg("session created")
	c.JSON(http.StatusCreated, gin.H{"sessionId": sid})
}

func (a *apiHandlers) mySession(c *gin.Context) {
	raw, _ := sessions.Default(c).Get(lastSessionKey).(string)
	if raw == "" {
		c.JSON(http.StatusNotFound, errorBody(domain.ErrSessionNotFound))
		return
	}
	a.writeStatus(c, domain.SessionID(raw))
}

func (a *apiHandlers) sessionStatus(c *gin.Context) {
	a.writeStatus(c, domain.NormalizeSessionID(c.Param("id")))
}

func (a *apiHandlers) writeStatus(c *gin.Context, sid domain.SessionID) {
	st := a.rdv.QueryStatus(sid)
	c.JSON(http.StatusOK, gin.H{
		"sessionId":   sid,
		"exists":      st.Exists,
		"clientCount": st.ClientCount,
	})
}

func (a *apiHandlers) listProfiles(c *gin.Context) {
	list, err := a.catalog.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list profiles")
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": list})
}

func (a *apiHandlers) getProfile(c *gin.Context) {
	p, err := a.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(profileStatus(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *apiHandlers) createProfile(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Base string `json:"base"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile request", "code": "bad_payload"})
		return
	}
	if req.Base == "" {
		req.Base = permission.ProfileDefault
	}
	p, err := a.catalog.Create(c.Request.Context(), req.Name, req.Base)
	if err != nil {
		c.JSON(profileStatus(err), errorBody(err))
		return
	}
	c.JSON(http.StatusCreated, p)
}

func profileStatus(err error) int {
	switch {
	case errors.Is(err, permission.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, permission.ErrInvalidProfile), errors.Is(err, permission.ErrImmutableProfile):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorBody(err error) gin.H {
	return gin.H{"error": err.Error(), "code": domain.ErrorCode(err)}
}
