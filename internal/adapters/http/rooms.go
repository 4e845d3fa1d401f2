package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/adapters/identity"
	"github.com/dkeye/echomeet/internal/app/rooms"
	"github.com/dkeye/echomeet/internal/domain"
)

const notFoundMessage = "Meeting not found."

type roomHandlers struct {
	rooms     *rooms.Service
	secret    []byte
	shareBase string
}

type createRoomResponse struct {
	Code string `json:"code"`
	Link string `json:"link,omitempty"`
}

// creator is the bearer token subject when one is presented, the cookie
// client token otherwise.
func (h *roomHandlers) creator(c *gin.Context) (domain.UserID, error) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return domain.UserID(c.GetString("client_token")), nil
	}
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || len(h.secret) == 0 {
		return "", identity.ErrTokenInvalid
	}
	id, _, err := identity.ParseToken(raw, h.secret)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

func (h *roomHandlers) create(c *gin.Context) {
	creator, err := h.creator(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), creator)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("user", string(creator)).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create meeting"})
		return
	}

	sess := sessions.Default(c)
	sess.Set("last_room", string(room.ID))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}

	resp := createRoomResponse{Code: string(room.ID)}
	if h.shareBase != "" {
		resp.Link = strings.TrimRight(h.shareBase, "/") + "/meeting/" + string(room.ID)
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *roomHandlers) lookup(c *gin.Context) {
	room, err := h.rooms.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *roomHandlers) participants(c *gin.Context) {
	roster, err := h.rooms.Participants(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if roster == nil {
		roster = domain.Roster{}
	}
	c.JSON(http.StatusOK, gin.H{"participants": roster})
}

func (h *roomHandlers) fail(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
		return
	}
	log.Error().Err(err).Str("module", "adapters.http").Str("code", c.Param("code")).Msg("room request")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "directory unavailable"})
}
