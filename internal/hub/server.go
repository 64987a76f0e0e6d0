package hub

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"street-dice/internal/cache"
	"street-dice/internal/database"
	"street-dice/internal/game"
	"street-dice/internal/gamesync"
	"street-dice/internal/logger"
	"street-dice/internal/models"
	"street-dice/internal/monitor"
)

const (
	maxBodyBytes = 64 * 1024
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// CreateRequest 新建消息
type CreateRequest struct {
	ChatID   string             `json:"chatId"`
	SenderID string             `json:"senderId"`
	Kind     models.MessageKind `json:"kind"`
	Text     string             `json:"text"`
}

// MessageResponse 消息当前值
type MessageResponse struct {
	ID        string             `json:"id"`
	ChatID    string             `json:"chatId,omitempty"`
	SenderID  string             `json:"senderId,omitempty"`
	Kind      models.MessageKind `json:"kind"`
	Text      string             `json:"text"`
	Version   int64              `json:"version"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// PushFrame 通过 websocket 推送的替换
type PushFrame struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Version int64  `json:"version"`
}

// Server 共享文档宿主：读取、整体替换、订阅。没有事务，最后写入者生效。
type Server struct {
	db       *database.DB
	blobs    *cache.BlobCache
	log      *logger.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

func NewServer(db *database.DB, blobs *cache.BlobCache, log *logger.Logger) *Server {
	s := &Server{
		db:    db,
		blobs: blobs,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/messages", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{id}", s.handleReplace).Methods(http.MethodPut)
	r.HandleFunc("/api/chats/{chatId}/messages", s.handleChatMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/matches", s.handleMatches).Methods(http.MethodGet)
	r.HandleFunc("/ws/messages/{id}", s.handleSubscribe)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Use(instrument)
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录 API 耗时；websocket 是长连接，不计入
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		monitor.RecordRequest(route, r.Method, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = models.MessageKindText
	}
	if req.Kind != models.MessageKindText && req.Kind != models.MessageKindGame {
		writeError(w, http.StatusBadRequest, "unknown message kind")
		return
	}

	msg := &models.Message{
		ID:       uuid.NewString(),
		ChatID:   req.ChatID,
		SenderID: req.SenderID,
		Kind:     req.Kind,
		Text:     req.Text,
	}
	if err := s.db.CreateMessage(msg); err != nil {
		s.log.ErrorWithContext("HUB", "创建消息失败: %v", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	s.log.InfoWithContext("HUB", "创建消息: id=%s chat=%s kind=%s", msg.ID, msg.ChatID, msg.Kind)
	writeJSON(w, http.StatusCreated, map[string]string{"id": msg.ID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	blob, err := s.blobs.Get(id)
	if err != nil {
		s.log.ErrorWithContext("HUB", "读取消息失败: id=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if blob == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		ID:        blob.MessageID,
		Kind:      blob.Kind,
		Text:      blob.Text,
		Version:   blob.Version,
		UpdatedAt: blob.UpdatedAt,
	})
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}

	blob, err := s.blobs.Update(id, string(body))
	if err != nil {
		s.log.ErrorWithContext("HUB", "替换消息失败: id=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "write failed")
		return
	}
	if blob == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	if blob.Kind == models.MessageKindGame {
		s.recordIfFinished(id, blob.Text)
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordIfFinished 游戏消息进入终局时记录结果
func (s *Server) recordIfFinished(id, text string) {
	state, ok := gamesync.Decode(text)
	if !ok || !state.Terminal() {
		return
	}

	winner := game.Winner(state)
	inserted, err := s.db.RecordMatchResultWithTransaction(&models.MatchResult{
		MessageID:  id,
		BankerID:   state.FirstPlayerID,
		OpponentID: state.SecondPlayerID,
		Winner:     winner,
		ScoreA:     state.ScoreA,
		ScoreB:     state.ScoreB,
	})
	if err != nil {
		s.log.ErrorWithContext("HUB", "记录比赛结果失败: id=%s err=%v", id, err)
		return
	}
	if inserted {
		monitor.RecordMatchFinished(string(winner))
		s.log.InfoWithContext("HUB", "比赛结束: id=%s 胜者=%s 比分=%d-%d", id, winner, state.ScoreA, state.ScoreB)
	}
}

// parseLimit 读取 ?limit=，范围 1..200
func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 20, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 200 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	results, err := s.db.ListMatchResults(limit)
	if err != nil {
		s.log.ErrorWithContext("HUB", "查询比赛结果失败: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if results == nil {
		results = []*models.MatchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleChatMessages 会话最近的消息，按时间正序
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	msgs, err := s.db.ListChatMessages(chatID, limit)
	if err != nil {
		s.log.ErrorWithContext("HUB", "查询会话消息失败: chat=%s err=%v", chatID, err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			ChatID:    m.ChatID,
			SenderID:  m.SenderID,
			Kind:      m.Kind,
			Text:      m.Text,
			Version:   m.Version,
			UpdatedAt: m.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// 先订阅再取快照，避免漏掉两者之间的写入
	updates, cancel := s.blobs.Subscribe(id)
	defer cancel()

	blob, err := s.blobs.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if blob == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.ErrorWithContext("HUB", "websocket 升级失败: %v", err)
		return
	}
	defer ws.Close()

	monitor.SubscriberAdded()
	defer monitor.SubscriberRemoved()
	s.log.DebugWithContext("HUB", "订阅: id=%s remote=%s", id, r.RemoteAddr)

	// 读循环只用来发现断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastVersion := blob.Version
	if err := s.push(ws, PushFrame{ID: id, Text: blob.Text, Version: blob.Version}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case u := <-updates:
			if u.Version <= lastVersion {
				continue
			}
			lastVersion = u.Version
			if err := s.push(ws, PushFrame{ID: id, Text: u.Text, Version: u.Version}); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(ws *websocket.Conn, frame PushFrame) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(frame); err != nil {
		s.log.DebugWithContext("HUB", "推送失败: id=%s err=%v", frame.ID, err)
		return err
	}
	return nil
}
