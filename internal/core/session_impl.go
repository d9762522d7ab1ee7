package core

import "github.com/dkeye/Chat/internal/domain"

// clientSession implements ClientSession by pairing identity + transport.
type clientSession struct {
	id   SessionID
	user domain.User
	conn Connection
}

func NewClientSession(id SessionID, user domain.User, conn Connection) ClientSession {
	return &clientSession{id: id, user: user, conn: conn}
}

func (s *clientSession) ID() SessionID     { return s.id }
func (s *clientSession) User() domain.User { return s.user }
func (s *clientSession) Conn() Connection  { return s.conn }
