package inmemory

import (
	"sync"

	"github.com/watchparty/server/internal/repository/connection"
	"github.com/watchparty/server/pkg/wsrouter"
)

type repo struct {
	mu       sync.RWMutex
	sessions map[*wsrouter.Conn]connection.Session
	conns    map[string]*wsrouter.Conn
}

func NewRepo() *repo {
	return &repo{
		sessions: make(map[*wsrouter.Conn]connection.Session),
		conns:    make(map[string]*wsrouter.Conn),
	}
}

func (r *repo) Add(conn *wsrouter.Conn, session connection.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[conn]; ok {
		return connection.ErrAlreadyExists
	}
	if _, ok := r.conns[session.MemberId]; ok {
		return connection.ErrAlreadyExists
	}

	r.sessions[conn] = session
	r.conns[session.MemberId] = conn

	return nil
}

func (r *repo) RemoveByConn(conn *wsrouter.Conn) (connection.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[conn]
	if !ok {
		return connection.Session{}, connection.ErrNotFound
	}

	delete(r.sessions, conn)
	delete(r.conns, session.MemberId)

	return session, nil
}

func (r *repo) GetConn(memberId string) (*wsrouter.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[memberId]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

func (r *repo) GetSession(conn *wsrouter.Conn) (connection.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[conn]
	if !ok {
		return connection.Session{}, connection.ErrNotFound
	}

	return session, nil
}
