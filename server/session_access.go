package server

// handleUSER restarts the login sequence, even for a logged-in session.
func (s *session) handleUSER(user string) error {
	s.state.beginLogin(user)
	s.reply(331, "User name okay, need password.")
	return nil
}

func (s *session) handlePASS(pass string) error {
	user, ok := s.state.pendingUser()
	if !ok {
		s.reply(503, "Login with USER first.")
		return nil
	}

	// Verification may be slow (bcrypt); the state lock is not held.
	verified := s.server.auth.Verify(user, pass)
	s.state.finishLogin(verified)

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(verified, user)
	}

	if !verified {
		// Security audit: failed authentication
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", user,
		)
		s.reply(530, "Login incorrect.")
		return nil
	}

	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", user,
	)
	s.reply(230, "User logged in, proceed.")
	return nil
}

func (s *session) handleQUIT(_ string) error {
	s.quit = true
	s.reply(221, "Service closing control connection.")
	return nil
}
