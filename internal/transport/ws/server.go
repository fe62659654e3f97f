// Package ws is the player command gateway: one websocket session per
// connected player, JSON commands in, notices and acks out.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"townforge/internal/claim"
	"townforge/internal/database"
	"townforge/internal/manager"
	"townforge/internal/protocol"
	"townforge/internal/user"
)

type Server struct {
	serverName string
	mgr        *manager.Manager
	db         database.Database
	log        *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session // lower-cased player name -> session
}

func NewServer(serverName string, mgr *manager.Manager, db database.Database, logger *log.Logger) *Server {
	return &Server{
		serverName: serverName,
		mgr:        mgr,
		db:         db,
		log:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: make(map[string]*session),
	}
}

// session implements user.OnlineUser for one live connection.
type session struct {
	u   user.User
	out chan []byte
}

func (s *session) User() user.User { return s.u }

func (s *session) SendMessage(text string) {
	b, err := json.Marshal(protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		Text:            text,
	})
	if err != nil {
		return
	}
	select {
	case s.out <- b:
	default:
		// Slow consumer; drop the notice rather than block a task.
	}
}

// FindOnline implements user.Provider.
func (s *Server) FindOnline(name string) (user.OnlineUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return sess, true
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		key := strings.ToLower(sess.u.Name)
		defer func() {
			s.mu.Lock()
			if s.sessions[key] == sess {
				delete(s.sessions, key)
			}
			s.mu.Unlock()
			s.mgr.HandleDisconnect(sess.u)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCommand {
				continue
			}
			var cmd protocol.CommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				s.ack(sess, cmd.ID, false, protocol.ErrProtoBadRequest)
				continue
			}
			if cmd.ProtocolVersion != protocol.Version {
				s.ack(sess, cmd.ID, false, protocol.ErrProtoBadRequest)
				continue
			}
			s.dispatch(sess, cmd)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"),
			time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		return nil
	}
	id, err := uuid.Parse(hello.PlayerID)
	if err != nil || strings.TrimSpace(hello.PlayerName) == "" {
		return nil
	}

	u := user.User{ID: id, Name: strings.TrimSpace(hello.PlayerName)}
	if err := s.db.SaveUser(context.Background(), u); err != nil {
		s.log.Printf("save user %s: %v", u.Name, err)
		return nil
	}

	sess := &session{u: u, out: make(chan []byte, 64)}
	s.mu.Lock()
	s.sessions[strings.ToLower(u.Name)] = sess
	s.mu.Unlock()

	welcome, err := json.Marshal(protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ServerName:      s.serverName,
		PlayerID:        u.ID.String(),
	})
	if err != nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) dispatch(sess *session, cmd protocol.CommandMsg) {
	world := claim.WorldID(cmd.World)
	chunk := claim.Chunk{X: cmd.ChunkX, Z: cmd.ChunkZ}

	switch cmd.Command {
	case protocol.CmdCreateTown:
		s.mgr.Towns().CreateTown(sess, cmd.Name)
	case protocol.CmdDeleteTown:
		s.mgr.Towns().DeleteTown(sess)
	case protocol.CmdInvite:
		s.mgr.Towns().InviteMember(sess, cmd.Target)
	case protocol.CmdInviteReply:
		s.mgr.Towns().HandleInviteReply(sess, cmd.Accepted, cmd.Target)
	case protocol.CmdRemoveMember:
		s.mgr.Towns().RemoveMember(sess, cmd.Target)
	case protocol.CmdRenameTown:
		s.mgr.Towns().RenameTown(sess, cmd.Name)
	case protocol.CmdSetSpawn:
		s.mgr.Towns().SetTownSpawn(sess, world, chunk)
	case protocol.CmdClearSpawn:
		s.mgr.Towns().ClearTownSpawn(sess)
	case protocol.CmdDeposit:
		s.mgr.Towns().DepositTownBank(sess, cmd.Amount)
	case protocol.CmdCreateClaim:
		s.mgr.Claims().CreateClaim(sess, world, chunk)
	case protocol.CmdDeleteClaim:
		s.mgr.Claims().DeleteClaim(sess, world, chunk)
	case protocol.CmdDeleteAllClaims:
		s.mgr.Claims().DeleteAllClaims(sess)
	case protocol.CmdMakeClaimPlot:
		s.mgr.Claims().MakeClaimPlot(sess, world, chunk)
	case protocol.CmdMakeClaimFarm:
		s.mgr.Claims().MakeClaimFarm(sess, world, chunk)
	case protocol.CmdMakeClaimRegular:
		s.mgr.Claims().MakeClaimRegular(sess, world, chunk)
	case protocol.CmdAddPlotMember:
		s.mgr.Claims().AddPlotMember(sess, world, chunk, cmd.Target)
	case protocol.CmdRemovePlotMember:
		s.mgr.Claims().RemovePlotMember(sess, world, chunk, cmd.Target)
	default:
		s.ack(sess, cmd.ID, false, protocol.ErrBadRequest)
		return
	}
	s.ack(sess, cmd.ID, true, "")
}

func (s *Server) ack(sess *session, ackFor string, accepted bool, code string) {
	b, err := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Accepted:        accepted,
		Code:            code,
	})
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
	}
}
