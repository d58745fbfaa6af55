package network

import (
	"context"

	"cdpnetwatch/internal/session"
)

// onAuthRequired 每个拦截句柄只尝试一次凭据，再次挑战时取消，避免无限重试
func (m *Manager) onAuthRequired(fx *effects, s session.Session, a *AuthRequired, st dispatchState) {
	args := session.ContinueWithAuthArgs{
		InterceptionID: a.InterceptionID,
		Response:       session.AuthDefault,
	}
	switch {
	case m.attemptedAuth[a.InterceptionID]:
		args.Response = session.AuthCancel
	case st.credentials != nil:
		args.Response = session.AuthProvideCredentials
		args.Username = st.credentials.Username
		args.Password = st.credentials.Password
		m.attemptedAuth[a.InterceptionID] = true
	}
	m.log.Debug("处理认证挑战", "interceptionId", string(a.InterceptionID),
		"origin", a.Challenge.Origin, "response", string(args.Response))

	fx.add(func(ctx context.Context) {
		m.logReply(s.ContinueWithAuth(ctx, args), "Fetch.continueWithAuth", string(a.InterceptionID))
	})
}
