package team

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/fanout"
	"github.com/nao1215/teamhub/internal/mail"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/pkg/event"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// tokenBytes は招待トークンの乱数バイト数。16進文字列では2倍の長さになる。
const tokenBytes = 32

// 招待ごとの送信結果。
const (
	inviteSent   = "sent"
	inviteFailed = "failed"
)

type inviteRequest struct {
	Email    string   `json:"email"`
	Emails   []string `json:"emails"`
	TeamName string   `json:"teamName" binding:"required"`
	Role     string   `json:"role" binding:"omitempty,oneof=MEMBER MANAGER"`
	Message  string   `json:"message"`
}

// addresses は email と emails を合わせ、小文字化して重複を除いた宛先を返す。
func (r inviteRequest) addresses() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range append([]string{r.Email}, r.Emails...) {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// inviteResult は宛先ごとの招待結果。
type inviteResult struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// newToken は推測できない招待トークンを生成する。
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("招待トークンの生成に失敗: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// handleInvite は宛先ごとに招待を作成してメールを送るハンドラ。
// 登録済みのユーザーにはTEAM_INVITATION通知も送る。一部の宛先が失敗しても残りの処理は続ける。
func (h *Handler) handleInvite() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		var req inviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}
		addresses := req.addresses()
		if len(addresses) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "招待先のメールアドレスを指定してください"})
			return
		}

		ctx := c.Request.Context()
		t, err := h.repo.GetTeamByName(ctx, req.TeamName)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "チームが見つかりません"})
				return
			}
			h.logger.Error("チーム取得エラー", zap.String("team_name", req.TeamName), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の送信に失敗しました"})
			return
		}
		inviter, err := h.repo.GetUser(ctx, userID)
		if err != nil {
			h.respondUserLookupError(c, userID, err)
			return
		}

		role := store.Role(req.Role)
		if role == "" {
			role = store.RoleMember
		}
		results := make([]inviteResult, 0, len(addresses))
		var sent []string
		for _, email := range addresses {
			if err := h.invite(ctx, inviter, t, email, role, req.Message); err != nil {
				h.logger.Warn("招待の送信に失敗", zap.String("email", email), zap.String("team_id", t.ID), zap.Error(err))
				results = append(results, inviteResult{Email: email, Status: inviteFailed, Error: err.Error()})
				continue
			}
			results = append(results, inviteResult{Email: email, Status: inviteSent})
			sent = append(sent, email)
		}

		if len(sent) > 0 {
			h.bus.Emit(ctx, t.ID, event.AggregateTypeInvitation, event.TypeMembersInvited, userID,
				event.MembersInvitedData{TeamID: t.ID, Emails: sent})
		}

		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

// invite は1件の招待を作成し、メールを送り、登録済みユーザーであれば通知する。
func (h *Handler) invite(ctx context.Context, inviter *store.User, t *store.Team, email string, role store.Role, message string) error {
	token, err := newToken()
	if err != nil {
		return err
	}
	inv := &store.Invitation{
		Email:     email,
		TeamID:    t.ID,
		Role:      role,
		Token:     token,
		InvitedBy: inviter.ID,
	}
	if err := h.repo.UpsertInvitation(ctx, inv); err != nil {
		return err
	}

	msg, err := mail.InvitationMessage(email, mail.InvitationData{
		InviterName: inviter.Name,
		TeamName:    t.Name,
		Role:        string(role),
		InviteLink:  h.frontendURL + "/invitation/" + token,
		Message:     message,
	})
	if err != nil {
		return err
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		return err
	}

	invitee, err := h.repo.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		// 未登録の宛先にはメールだけを送る
		return nil
	case err != nil:
		return err
	}
	h.dispatcher.Dispatch(ctx, fanout.Notice{
		Context: recipient.Context{ActorID: inviter.ID, TargetUserIDs: []string{invitee.ID}},
		Title:   "Team Invitation",
		Message: fmt.Sprintf("%s invited you to join team %s", inviter.Name, t.Name),
		Payload: notification.TeamInvitation{
			TeamID:       t.ID,
			TeamName:     t.Name,
			Token:        token,
			InvitedBy:    inviter.Name,
			SenderAvatar: inviter.Avatar,
		},
	})
	return nil
}

// handleAccept は招待を承諾してチームに参加するハンドラ。
// 承諾済みの招待には同じ結果を返し、辞退済みの招待は承諾できない。
func (h *Handler) handleAccept() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, p, ok := h.loadInvitation(c)
		if !ok {
			return
		}

		switch inv.Status {
		case store.InvitationAccepted:
			c.JSON(http.StatusOK, gin.H{"message": "招待は承諾済みです", "teamId": inv.TeamID})
			return
		case store.InvitationDeclined:
			c.JSON(http.StatusBadRequest, gin.H{"error": "辞退済みの招待は承諾できません"})
			return
		}

		ctx := c.Request.Context()
		if err := h.repo.AddTeamMember(ctx, inv.TeamID, p.ID, inv.Role); err != nil {
			h.logger.Error("チームメンバー追加エラー", zap.String("team_id", inv.TeamID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の承諾に失敗しました"})
			return
		}
		if err := h.repo.UpdateInvitationStatus(ctx, inv.ID, store.InvitationAccepted); err != nil {
			h.logger.Error("招待の状態更新エラー", zap.String("invitation_id", inv.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の承諾に失敗しました"})
			return
		}
		h.bus.Emit(ctx, inv.ID, event.AggregateTypeInvitation, event.TypeInvitationAccepted, p.ID,
			event.InvitationAcceptedData{TeamID: inv.TeamID, UserID: p.ID})

		c.JSON(http.StatusOK, gin.H{"message": "チームに参加しました", "teamId": inv.TeamID})
	}
}

// handleDecline は保留中の招待を辞退するハンドラ。
func (h *Handler) handleDecline() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, _, ok := h.loadInvitation(c)
		if !ok {
			return
		}
		if inv.Status != store.InvitationPending {
			c.JSON(http.StatusBadRequest, gin.H{"error": "保留中の招待ではありません"})
			return
		}

		if err := h.repo.UpdateInvitationStatus(c.Request.Context(), inv.ID, store.InvitationDeclined); err != nil {
			h.logger.Error("招待の状態更新エラー", zap.String("invitation_id", inv.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の辞退に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "招待を辞退しました"})
	}
}

// loadInvitation はパスのトークンから招待を取得し、宛先が利用者本人であることを確認する。
// 失敗した場合はレスポンスを書き込んでokにfalseを返す。
func (h *Handler) loadInvitation(c *gin.Context) (*store.Invitation, middleware.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return nil, p, false
	}

	inv, err := h.repo.GetInvitationByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "招待が見つかりません"})
			return nil, p, false
		}
		h.logger.Error("招待取得エラー", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の取得に失敗しました"})
		return nil, p, false
	}
	if !strings.EqualFold(inv.Email, p.Email) {
		c.JSON(http.StatusForbidden, gin.H{"error": "この招待は別のメールアドレス宛てです"})
		return nil, p, false
	}
	return inv, p, true
}
